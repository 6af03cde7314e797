package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agelabs/escrow/internal/models"
)

// ErrAttestationNotFound is returned when the registry has no record for a
// uid (or reports the zero-uid sentinel).
var ErrAttestationNotFound = errors.New("attestation not found")

// Registry is the consumed attestation-registry surface. The verifier is a
// read-only client and trusts the registry's reported attester and timestamps
// absolutely.
type Registry interface {
	GetAttestation(ctx context.Context, uid models.UID) (*models.Attestation, error)
}

// HTTPRegistry reads attestations from a JSON gateway in front of the
// registry contract (GET {base}/attestations/{uid}).
type HTTPRegistry struct {
	base   string
	client *http.Client
}

// NewHTTPRegistry returns a client for the given base URL.
func NewHTTPRegistry(base string) *HTTPRegistry {
	return &HTTPRegistry{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Registry = (*HTTPRegistry)(nil)

func (r *HTTPRegistry) GetAttestation(ctx context.Context, uid models.UID) (*models.Attestation, error) {
	url := r.base + "/attestations/" + uid.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAttestationNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	var att models.Attestation
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("registry response: %w", err)
	}
	if att.UID.IsZero() {
		return nil, ErrAttestationNotFound
	}
	return &att, nil
}

// MemoryRegistry is an in-process registry for tests and dev runs; Set plays
// the role of the registry contract's attest call.
type MemoryRegistry struct {
	mu           sync.RWMutex
	attestations map[models.UID]*models.Attestation
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{attestations: make(map[models.UID]*models.Attestation)}
}

var _ Registry = (*MemoryRegistry)(nil)

// Set stores an attestation under its uid.
func (r *MemoryRegistry) Set(att *models.Attestation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *att
	r.attestations[att.UID] = &cp
}

func (r *MemoryRegistry) GetAttestation(_ context.Context, uid models.UID) (*models.Attestation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	att, ok := r.attestations[uid]
	if !ok || att.UID.IsZero() {
		return nil, ErrAttestationNotFound
	}
	cp := *att
	return &cp, nil
}
