// Package model owns a loaded model and its decode state.
//
// A Handle is created from a GGUF file path, exposes static metadata, and
// produces output one Step at a time. It carries no policy: ordering,
// cancellation and concurrency rules live in package session, which is the
// only caller of Prime, Step and Reset.
//
// Engines:
//
//   - llama: in-process go-llama.cpp. Enabled with `-tags=llama`
//     (backend_llama.go, llama_cgo.go). Without the tag, backend_llama_stub.go
//     registers a backend that fails every load with a dependency error.
//   - server: a llama.cpp `llama-server` child process bound to loopback and
//     driven through its streaming completions endpoint (backend_server.go).
package model
