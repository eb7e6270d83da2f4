// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package shamir

import (
	"fmt"

	"github.com/parsec-cloud/go-parsec/device"
)

// RecoverDevice reconstructs the recovery device identity from
// gathered shares and the setup's ciphered payload. Pure computation:
// the recipients hand over their opened shares out of band, and the
// ciphered data comes from the setup.
func RecoverDevice(threshold uint8, shares []Share, cipheredData []byte) (*device.LocalDevice, error) {
	dataKey, err := CombineShares(threshold, shares)
	if err != nil {
		return nil, err
	}
	identity, err := dataKey.Decrypt(cipheredData)
	if err != nil {
		return nil, fmt.Errorf("shamir: deciphering recovery identity: %w", err)
	}
	return device.Decode(identity)
}
