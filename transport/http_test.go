// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

func testClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(HTTPConfig{
		BaseURL:      server.URL,
		AuthorDevice: ref.NewDeviceID(),
		HTTP:         server.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func respond(t *testing.T, w http.ResponseWriter, reply any) {
	t.Helper()
	body, err := codec.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.Write(body)
}

func certifTimestamps(since dtime.Time, realm ref.RealmID) certif.PerTopicLastTimestamps {
	return certif.PerTopicLastTimestamps{
		Common: since,
		Realms: map[ref.RealmID]dtime.Time{realm: since.Add(time.Second)},
	}
}

func TestHTTPVlobRead(t *testing.T) {
	realm := ref.NewRealmID()
	vlob := ref.VlobIDFromEntry(ref.NewEntryID())
	author := ref.NewDeviceID()
	stamp := dtime.FromStd(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cmd/vlob_read" {
			t.Errorf("path = %s, want /cmd/vlob_read", r.URL.Path)
		}
		if r.Header.Get("Parsec-Author") == "" {
			t.Error("request carries no author header")
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		var request struct {
			Realm     ref.RealmID `cbor:"realm"`
			Vlob      ref.VlobID  `cbor:"vlob"`
			AtVersion uint32      `cbor:"at_version"`
		}
		if err := codec.Unmarshal(body, &request); err != nil {
			t.Fatal(err)
		}
		if request.Realm != realm || request.Vlob != vlob || request.AtVersion != 3 {
			t.Errorf("request = %+v", request)
		}
		respond(t, w, map[string]any{
			"status":                              "ok",
			"blob":                                []byte("ciphertext"),
			"key_index":                           uint64(2),
			"author":                              author,
			"version":                             uint32(3),
			"timestamp":                           stamp,
			"needed_common_certificate_timestamp": stamp.Add(-time.Hour),
			"needed_realm_certificate_timestamp":  stamp.Add(-time.Minute),
		})
	})

	reply, err := client.VlobRead(context.Background(), VlobReadRequest{Realm: realm, Vlob: vlob, AtVersion: 3})
	if err != nil {
		t.Fatal(err)
	}
	ok, isOK := reply.(VlobReadOK)
	if !isOK {
		t.Fatalf("reply = %T, want VlobReadOK", reply)
	}
	if string(ok.Blob) != "ciphertext" || ok.KeyIndex != 2 || ok.Author != author || ok.Version != 3 {
		t.Fatalf("reply = %+v", ok)
	}
	if ok.NeededCommonCertificateTimestamp != stamp.Add(-time.Hour) {
		t.Fatalf("needed common = %s", ok.NeededCommonCertificateTimestamp)
	}
}

func TestHTTPVlobUpdateSharedRejections(t *testing.T) {
	floor := dtime.FromStd(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{
			"status":                "require_greater_timestamp",
			"strictly_greater_than": floor,
		})
	})

	reply, err := client.VlobUpdate(context.Background(), VlobUpdateRequest{
		Realm: ref.NewRealmID(), Vlob: ref.VlobIDFromEntry(ref.NewEntryID()), KeyIndex: 1, Version: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	greater, isGreater := reply.(RequireGreaterTimestamp)
	if !isGreater {
		t.Fatalf("reply = %T, want RequireGreaterTimestamp", reply)
	}
	if greater.StrictlyGreaterThan != floor {
		t.Fatalf("floor = %s, want %s", greater.StrictlyGreaterThan, floor)
	}
}

func TestHTTPCertificateGetCarriesWatermarks(t *testing.T) {
	realm := ref.NewRealmID()
	since := dtime.FromStd(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		var request struct {
			Since wireTimestamps `cbor:"since"`
		}
		if err := codec.Unmarshal(body, &request); err != nil {
			t.Fatal(err)
		}
		if request.Since.Common != since || request.Since.Realms[realm] != since.Add(time.Second) {
			t.Errorf("since = %+v", request.Since)
		}
		respond(t, w, map[string]any{
			"status": "ok",
			"common": [][]byte{[]byte("cert")},
		})
	})

	reply, err := client.CertificateGet(context.Background(), certifTimestamps(since, realm))
	if err != nil {
		t.Fatal(err)
	}
	ok, isOK := reply.(CertificatesOK)
	if !isOK {
		t.Fatalf("reply = %T, want CertificatesOK", reply)
	}
	if len(ok.Common) != 1 || string(ok.Common[0]) != "cert" {
		t.Fatalf("common = %v", ok.Common)
	}
}

func TestHTTPServerErrorIsOffline(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	realm := ref.NewRealmID()
	_, err := client.VlobRead(context.Background(), VlobReadRequest{Realm: realm, Vlob: ref.VlobIDFromRealm(realm)})
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("error = %v, want ErrOffline", err)
	}
}

func TestHTTPUnreachableIsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: url, AuthorDevice: ref.NewDeviceID()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.CertificateGet(context.Background(), certifTimestamps(0, ref.NewRealmID()))
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("error = %v, want ErrOffline", err)
	}
}

func TestHTTPUnexpectedStatus(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, map[string]any{"status": "flying_saucer"})
	})
	_, err := client.DeviceCreate(context.Background(), DeviceCreateRequest{})
	if err == nil {
		t.Fatal("unknown status accepted")
	}
}
