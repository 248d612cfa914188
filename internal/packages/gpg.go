package packages

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	"skein/internal/apierrors"
)

// VerifySignature checks pkg's detached signature against the registry's
// configured public key, per §4.10. reg.GPGKey is the registry's gpgkey
// setting ("file://..."); manifest is the exact bytes the signature was
// computed over (the downloaded mcp.json).
func VerifySignature(reg RegistryConfig, pkg PackageMetadata, manifest []byte) error {
	if !reg.GPGCheck {
		return nil
	}
	if reg.TrustLevel == "trusted" {
		return nil
	}
	if pkg.Signature == "" {
		return &apierrors.SignatureVerificationError{Package: pkg.Name, Cause: fmt.Errorf("registry requires gpgcheck but package carries no signature")}
	}

	keyPath := strings.TrimPrefix(reg.GPGKey, "file://")
	keyFile, err := os.Open(keyPath)
	if err != nil {
		return &apierrors.SignatureVerificationError{Package: pkg.Name, Cause: fmt.Errorf("open gpg key %s: %w", keyPath, err)}
	}
	defer keyFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return &apierrors.SignatureVerificationError{Package: pkg.Name, Cause: fmt.Errorf("parse gpg key: %w", err)}
	}

	sigBytes, err := base64.StdEncoding.DecodeString(pkg.Signature)
	if err != nil {
		return &apierrors.SignatureVerificationError{Package: pkg.Name, Cause: fmt.Errorf("decode signature: %w", err)}
	}

	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(manifest), bytes.NewReader(sigBytes), nil)
	if err != nil {
		return &apierrors.SignatureVerificationError{Package: pkg.Name, Cause: err}
	}
	return nil
}
