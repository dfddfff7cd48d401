// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"fmt"
	"reflect"
)

// handlerIdentityOf derives a stable identity for a HandlerFunc value so On
// can detect re-registration of the same function value and Off can target
// a specific one. Go funcs are not comparable, so we key on the underlying
// code pointer rather than attempting deep equality of closures. Closures
// created from the same function literal share that code pointer, so they
// count as the same handler even when they capture different variables.
func handlerIdentityOf(fn HandlerFunc) string {
	return fmt.Sprintf("%x", reflect.ValueOf(fn).Pointer())
}
