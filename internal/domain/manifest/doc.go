// Package manifest loads web app manifests for embedded pages and answers
// navigation scope questions against them. A missing or broken manifest is
// never fatal: callers treat ErrUnavailable as "no manifest".
package manifest
