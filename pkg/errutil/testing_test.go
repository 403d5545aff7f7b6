// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/plughost/pkg/errutil"
)

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("ROOT_NOT_FOUND").Errorf("plugin root not found")
	errutil.AssertErrorCode(t, err, "ROOT_NOT_FOUND")
}

func TestAssertErrorCode_SurvivesWrapping(t *testing.T) {
	inner := oops.Code("INVALID_CONFIG").Errorf("mode is required")
	errutil.AssertErrorCode(t, oops.In("pluginhost").Wrap(inner), "INVALID_CONFIG")
}

func TestAssertErrorDomain(t *testing.T) {
	err := oops.In("scanner").With("root", "/plugins").Errorf("not a directory")
	errutil.AssertErrorDomain(t, err, "scanner")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.In("archive").With("path", "/plugins/a.zip").Errorf("corrupt")
	errutil.AssertErrorContext(t, err, "path", "/plugins/a.zip")
}
