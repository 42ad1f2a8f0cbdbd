// Package httpapi exposes the authcore engine as a JSON API on a chi router.
package httpapi
