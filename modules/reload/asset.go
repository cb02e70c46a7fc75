package reload

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ClientAsset is the fixed name of the browser client script, both on disk
// under the web root and as served by the reload server.
const ClientAsset = "browser-sync-client.js"

//go:embed assets/browser-sync-client.js
var clientScript []byte

// ClientScript returns the embedded browser client.
func ClientScript() []byte {
	return clientScript
}

// ProvisionClient writes the client script into webRoot unless a file by
// that name already exists there. It reports whether it wrote the file.
func ProvisionClient(webRoot string) (bool, error) {
	if webRoot == "" {
		webRoot = DefaultWebRoot
	}
	if err := os.MkdirAll(webRoot, 0o755); err != nil {
		return false, fmt.Errorf("creating web root: %w", err)
	}

	path := filepath.Join(webRoot, ClientAsset)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := f.Write(clientScript); err != nil {
		f.Close()
		os.Remove(path)
		return false, err
	}
	return true, f.Close()
}
