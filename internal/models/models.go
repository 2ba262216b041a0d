// package models defines the data model for the kvx bulk transfer service
package models

import "time"

// IntPtr returns a pointer to n, for the optional counters on [Job].
func IntPtr(n int) *int {
	return &n
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
