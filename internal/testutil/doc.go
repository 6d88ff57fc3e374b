// Package testutil contains test helpers for asserting call ordering and
// observer events. It depends only on core.
package testutil
