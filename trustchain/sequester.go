// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package trustchain

import (
	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/certstore"
)

func (v *Validator) validateSequesterAuthority(guard *certstore.ReadGuard, c *certif.SequesterAuthorityCertificate) error {
	kind := certif.KindOf(c)

	if c.VerifyKey.IsZero() {
		return invalid(ReasonInvalidContent, kind, "missing verify key")
	}
	// One authority per organization, established before anything
	// else in its topic.
	if !guard.LastTimestamps().Sequester.IsZero() {
		return invalid(ReasonAlreadyExists, kind, "sequester authority already established")
	}
	return nil
}

func (v *Validator) validateSequesterService(guard *certstore.ReadGuard, c *certif.SequesterServiceCertificate) error {
	kind := certif.KindOf(c)

	if c.ServiceID == "" {
		return invalid(ReasonInvalidContent, kind, "missing service id")
	}
	if c.PublicKey == "" {
		return invalid(ReasonInvalidContent, kind, "missing public key")
	}

	services, err := guard.GetSequesterServiceCertificates(0)
	if err != nil {
		return err
	}
	for _, service := range services {
		if service.ServiceID == c.ServiceID {
			return invalid(ReasonAlreadyExists, kind, "service %s already registered", c.ServiceID)
		}
	}
	return nil
}

func (v *Validator) validateSequesterRevokedService(guard *certstore.ReadGuard, c *certif.SequesterRevokedServiceCertificate) error {
	kind := certif.KindOf(c)

	services, err := guard.GetSequesterServiceCertificates(c.Base().Timestamp)
	if err != nil {
		return err
	}
	registered := false
	for _, service := range services {
		if service.ServiceID == c.ServiceID {
			registered = true
			break
		}
	}
	if !registered {
		return invalid(ReasonRelatedMissing, kind, "service %s is not registered", c.ServiceID)
	}

	revocations, err := guard.GetSequesterRevokedServiceCertificates(c.Base().Timestamp)
	if err != nil {
		return err
	}
	for _, revocation := range revocations {
		if revocation.ServiceID == c.ServiceID {
			return invalid(ReasonAlreadyExists, kind, "service %s is already revoked", c.ServiceID)
		}
	}
	return nil
}
