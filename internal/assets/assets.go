// Package assets embeds the frame-side bridge script served under /lib.
package assets

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
)

// BridgeEntry is the file name of the embedded bridge bundle.
const BridgeEntry = "spatial-viewer-bridge.js"

//go:embed lib
var embedded embed.FS

// Lib returns the embedded /lib tree.
func Lib() fs.FS {
	sub, err := fs.Sub(embedded, "lib")
	if err != nil {
		panic(err)
	}
	return sub
}

// FileSystem returns dir when set, otherwise the embedded bundle.
func FileSystem(dir string) http.FileSystem {
	if dir != "" {
		return http.FS(os.DirFS(dir))
	}
	return http.FS(Lib())
}
