// Package httpclient builds the *http.Client used for LLM backend calls.
package httpclient
