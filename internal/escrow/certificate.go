package escrow

import (
	"context"
	"sync"
)

// CertificateIssuer issues one locked certificate per job id and burns it on
// the refund paths. There is no unlock operation: a certificate is locked for
// as long as it exists.
//
// When a compensating registry call fails the local record still follows the
// job, and the divergence is remembered:
//   - orphaned ids hold a registry token with no job behind it; they stay
//     locked forever
//   - unminted ids belong to a job whose registry token is missing; the next
//     burn only drops the local record
type CertificateIssuer struct {
	tokens TokenRegistry

	mu       sync.RWMutex // IsLocked is consulted by registry transfers from outside the engine
	owners   map[uint64]Identity
	orphaned map[uint64]struct{}
	unminted map[uint64]struct{}
}

func newCertificateIssuer(tokens TokenRegistry) *CertificateIssuer {
	return &CertificateIssuer{
		tokens:   tokens,
		owners:   make(map[uint64]Identity),
		orphaned: make(map[uint64]struct{}),
		unminted: make(map[uint64]struct{}),
	}
}

// IsLocked reports whether a transfer of certificate id must be refused.
func (c *CertificateIssuer) IsLocked(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.orphaned[id]; ok {
		return true
	}
	_, ok := c.owners[id]
	return ok
}

// Exists reports whether certificate id has been issued and not burned.
func (c *CertificateIssuer) Exists(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owners[id]
	return ok
}

// Owners returns a copy of the live certificate records.
func (c *CertificateIssuer) Owners() map[uint64]Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]Identity, len(c.owners))
	for id, owner := range c.owners {
		out[id] = owner
	}
	return out
}

func (c *CertificateIssuer) issue(ctx context.Context, id uint64, owner Identity) error {
	if c.Exists(id) {
		return stateErr("certificate %d already exists", id)
	}
	if err := c.tokens.Mint(ctx, owner, id); err != nil {
		return &ExternalTransferError{Op: "certificate mint", Err: err}
	}
	c.record(id, owner)
	return nil
}

func (c *CertificateIssuer) burn(ctx context.Context, id uint64) error {
	c.mu.RLock()
	_, ok := c.owners[id]
	_, missing := c.unminted[id]
	c.mu.RUnlock()
	if !ok {
		return stateErr("certificate %d does not exist", id)
	}
	if !missing {
		if err := c.tokens.Burn(ctx, id); err != nil {
			return &ExternalTransferError{Op: "certificate burn", Err: err}
		}
	}
	c.mu.Lock()
	delete(c.owners, id)
	delete(c.unminted, id)
	c.mu.Unlock()
	return nil
}

// discard undoes an issue. The local record is dropped even if the registry
// keeps the token, in which case the id is orphaned.
func (c *CertificateIssuer) discard(ctx context.Context, id uint64) error {
	err := c.burn(ctx, id)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	delete(c.owners, id)
	c.orphaned[id] = struct{}{}
	c.mu.Unlock()
	return err
}

// reinstate undoes a burn. The local record comes back even if the registry
// refuses the mint, in which case the id is marked unminted.
func (c *CertificateIssuer) reinstate(ctx context.Context, id uint64, owner Identity) error {
	err := c.issue(ctx, id, owner)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	c.owners[id] = owner
	c.unminted[id] = struct{}{}
	c.mu.Unlock()
	return err
}

func (c *CertificateIssuer) record(id uint64, owner Identity) {
	c.mu.Lock()
	c.owners[id] = owner
	c.mu.Unlock()
}
