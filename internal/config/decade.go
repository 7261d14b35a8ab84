// SPDX-License-Identifier: MIT

package config

import "fmt"

// DecadeTag returns the decade tag for a year, e.g. 1994 -> "1990s" and
// 2003 -> "2000s". Out-of-range years yield "". Disabled auto-decade always
// yields "".
func (t Tags) DecadeTag(year int) string {
	if !t.AutoDecade.Enabled {
		return ""
	}
	if year < 1000 || year > 9999 {
		return ""
	}
	return fmt.Sprintf("%ds", year/10*10)
}
