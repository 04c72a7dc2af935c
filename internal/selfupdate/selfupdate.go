// Package selfupdate replaces the running binary with the latest release
// build. The release manifest carries a semver, a checksum, and an
// optional ed25519 signature; the swap is backup-then-rename so a failed
// apply leaves the old binary in place.
package selfupdate

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

type Manifest struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	Checksum  string `json:"checksum"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

type Result struct {
	Current    string `json:"current"`
	Version    string `json:"version"`
	Executable string `json:"executable,omitempty"`
	Updated    bool   `json:"updated"`
}

type Service struct {
	client *http.Client
}

func New(client *http.Client) *Service {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{client: client}
}

// Update fetches the release manifest and applies the new binary when it
// is newer than current. force skips the version comparison.
func (s *Service) Update(ctx context.Context, current string, force, requireSignatures bool) (Result, error) {
	manifestURL := resolveManifestURL()
	manifest, err := s.fetchManifest(ctx, manifestURL)
	if err != nil {
		return Result{}, err
	}
	if manifest.URL == "" || manifest.Checksum == "" {
		return Result{}, fmt.Errorf("UPD_MANIFEST: incomplete manifest")
	}
	res := Result{Current: current, Version: manifest.Version}
	if !force && !newer(manifest.Version, current) {
		return res, nil
	}

	binary, err := s.fetchBinary(ctx, manifestURL, manifest.URL)
	if err != nil {
		return Result{}, err
	}
	if err := verifyChecksum(binary, manifest.Checksum); err != nil {
		return Result{}, err
	}
	if err := verifySignature(binary, manifest.Signature, manifest.PublicKey, requireSignatures); err != nil {
		return Result{}, err
	}

	exe := os.Getenv("DEPOTKIT_SELF_UPDATE_TARGET")
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return Result{}, fmt.Errorf("UPD_EXEC: %w", err)
		}
	}
	if err := applyBinarySwap(exe, binary); err != nil {
		return Result{}, err
	}
	res.Executable = exe
	res.Updated = true
	return res, nil
}

// newer reports whether candidate is strictly newer than current. An
// unparseable current version never blocks an update.
func newer(candidate, current string) bool {
	c := canonical(candidate)
	cur := canonical(current)
	if !semver.IsValid(c) {
		return false
	}
	if !semver.IsValid(cur) {
		return true
	}
	return semver.Compare(c, cur) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func resolveManifestURL() string {
	if explicit := os.Getenv("DEPOTKIT_UPDATE_MANIFEST_URL"); explicit != "" {
		return explicit
	}
	base := os.Getenv("DEPOTKIT_UPDATE_MANIFEST_BASE")
	if base == "" {
		base = "https://github.com/depotkit/depotkit/releases/latest/download/"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + fmt.Sprintf("manifest-%s-%s.json", runtime.GOOS, runtime.GOARCH)
}

func (s *Service) fetchManifest(ctx context.Context, manifestURL string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return Manifest{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("UPD_FETCH: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("UPD_FETCH: status %d", resp.StatusCode)
	}
	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("UPD_MANIFEST: %w", err)
	}
	return manifest, nil
}

func (s *Service) fetchBinary(ctx context.Context, manifestURL, binaryURL string) ([]byte, error) {
	resolved := binaryURL
	if u, err := url.Parse(binaryURL); err == nil && !u.IsAbs() {
		if base, baseErr := url.Parse(manifestURL); baseErr == nil {
			resolved = base.ResolveReference(u).String()
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("UPD_DOWNLOAD: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("UPD_DOWNLOAD: status %d", resp.StatusCode)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("UPD_DOWNLOAD: empty payload")
	}
	return blob, nil
}

func verifyChecksum(binary []byte, expected string) error {
	expected = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(expected), "sha256:"))
	h := sha256.Sum256(binary)
	if actual := hex.EncodeToString(h[:]); actual != expected {
		return fmt.Errorf("UPD_CHECKSUM: expected %s got %s", expected, actual)
	}
	return nil
}

func verifySignature(binary []byte, sigB64, keyB64 string, required bool) error {
	if sigB64 == "" || keyB64 == "" {
		if required {
			return fmt.Errorf("UPD_SIGNATURE: signature required but missing")
		}
		return nil
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("UPD_SIGNATURE: invalid signature encoding")
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return fmt.Errorf("UPD_SIGNATURE: invalid public key encoding")
	}
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("UPD_SIGNATURE: invalid public key size")
	}
	if !ed25519.Verify(ed25519.PublicKey(key), binary, sig) {
		return fmt.Errorf("UPD_SIGNATURE: signature verification failed")
	}
	return nil
}

func applyBinarySwap(executable string, binary []byte) error {
	mode := os.FileMode(0o755)
	if stat, err := os.Stat(executable); err == nil {
		mode = stat.Mode().Perm()
	}
	newPath := executable + ".new"
	backupPath := executable + ".bak"
	if err := os.WriteFile(newPath, binary, mode); err != nil {
		return fmt.Errorf("UPD_WRITE: %w", err)
	}
	if err := os.Rename(executable, backupPath); err != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("UPD_SWAP: backup failed: %w", err)
	}
	if err := os.Rename(newPath, executable); err != nil {
		_ = os.Rename(backupPath, executable)
		_ = os.Remove(newPath)
		return fmt.Errorf("UPD_SWAP: apply failed: %w", err)
	}
	_ = os.Remove(backupPath)
	return nil
}
