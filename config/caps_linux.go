//go:build linux

/***************************************************************
 *
 * Copyright (C) 2023, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package config

import (
	"github.com/pkg/errors"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// HasNetBindServiceCap reports whether the current process holds
// CAP_NET_BIND_SERVICE, the capability needed to bind a port below 1024
// without running as root. cget serve calls this before attempting to
// bind a privileged Server_Port, so it can fail with a clear message
// instead of the kernel's bare EACCES.
func HasNetBindServiceCap() (result bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("unable to determine the process's capabilities")
		}
	}()

	curSet := cap.GetProc()
	if curSet == nil {
		return false, errors.New("unable to determine current capabilities")
	}

	enabled, err := curSet.GetFlag(cap.Permitted, cap.NET_BIND_SERVICE)
	if err != nil {
		return false, err
	}
	return enabled, nil
}
