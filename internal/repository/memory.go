package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsign/backend/pkg/models"
)

type memState struct {
	owners    map[string]models.Owner
	documents map[string]models.Document
	signers   map[string]models.Signer
	fields    map[string]models.Field
	jobs      map[string]models.RenderJob
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (st *memState) clone() *memState {
	return &memState{
		owners:    cloneMap(st.owners),
		documents: cloneMap(st.documents),
		signers:   cloneMap(st.signers),
		fields:    cloneMap(st.fields),
		jobs:      cloneMap(st.jobs),
	}
}

// MemoryStore keeps everything in process memory. It backs `serve
// --in-memory` and the service tests. Transactions work on a copy that
// replaces the live state on commit.
type MemoryStore struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		st: &memState{
			owners:    map[string]models.Owner{},
			documents: map[string]models.Document{},
			signers:   map[string]models.Signer{},
			fields:    map[string]models.Field{},
			jobs:      map[string]models.RenderJob{},
		},
		now: time.Now,
	}
}

func (s *MemoryStore) do(fn func(st *memState) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

// WithTx runs fn against a copy of the state and commits it if fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&MemoryStore{mu: s.mu, st: work, inTx: true, now: s.now}); err != nil {
		return err
	}
	*s.st = *work
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) GetOwner(ctx context.Context, id string) (*models.Owner, error) {
	var out *models.Owner
	err := s.do(func(st *memState) error {
		o, ok := st.owners[id]
		if !ok {
			return ErrNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (s *MemoryStore) GetOwnerByEmail(ctx context.Context, email string) (*models.Owner, error) {
	var out *models.Owner
	err := s.do(func(st *memState) error {
		for _, o := range st.owners {
			if o.Email == email {
				o := o
				out = &o
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) CreateOwner(ctx context.Context, owner *models.Owner) error {
	return s.do(func(st *memState) error {
		for _, o := range st.owners {
			if o.Email == owner.Email {
				return fmt.Errorf("owner %s already exists", owner.Email)
			}
		}
		if owner.ID == "" {
			owner.ID = uuid.NewString()
		}
		owner.CreatedAt = s.now()
		st.owners[owner.ID] = *owner
		return nil
	})
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	return s.do(func(st *memState) error {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.Status == "" {
			doc.Status = models.DocumentStatusDraft
		}
		now := s.now()
		doc.CreatedAt, doc.UpdatedAt = now, now
		st.documents[doc.ID] = *doc
		return nil
	})
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var out *models.Document
	err := s.do(func(st *memState) error {
		d, ok := st.documents[id]
		if !ok {
			return ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, id string, to models.DocumentStatus, from ...models.DocumentStatus) (bool, error) {
	changed := false
	err := s.do(func(st *memState) error {
		d, ok := st.documents[id]
		if !ok || (len(from) > 0 && !contains(from, d.Status)) {
			return nil
		}
		now := s.now()
		d.Status = to
		d.UpdatedAt = now
		if to == models.DocumentStatusCompleted {
			d.CompletedAt = &now
		}
		st.documents[id] = d
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	return s.do(func(st *memState) error {
		if _, ok := st.documents[id]; !ok {
			return ErrNotFound
		}
		delete(st.documents, id)
		delete(st.jobs, id)
		for k, sg := range st.signers {
			if sg.DocumentID == id {
				delete(st.signers, k)
			}
		}
		for k, f := range st.fields {
			if f.DocumentID == id {
				delete(st.fields, k)
			}
		}
		return nil
	})
}

func (s *MemoryStore) ReplacePreparation(ctx context.Context, p Preparation) error {
	return s.do(func(st *memState) error {
		seen := map[int]bool{}
		for _, sg := range p.Signers {
			if seen[sg.Order] {
				return fmt.Errorf("duplicate signing order %d", sg.Order)
			}
			seen[sg.Order] = true
			if prev, ok := st.signers[sg.ID]; ok && prev.DocumentID != p.DocumentID {
				return fmt.Errorf("signer %s: %w", sg.ID, ErrConflict)
			}
		}
		ids := make(map[string]bool, len(p.Fields))
		for _, f := range p.Fields {
			if ids[f.ID] {
				return fmt.Errorf("field %s: %w", f.ID, ErrConflict)
			}
			ids[f.ID] = true
			if prev, ok := st.fields[f.ID]; ok && prev.DocumentID != p.DocumentID {
				return fmt.Errorf("field %s: %w", f.ID, ErrConflict)
			}
		}
		for k, sg := range st.signers {
			if sg.DocumentID == p.DocumentID {
				delete(st.signers, k)
			}
		}
		for k, f := range st.fields {
			if f.DocumentID == p.DocumentID {
				delete(st.fields, k)
			}
		}
		for _, sg := range p.Signers {
			sg.DocumentID = p.DocumentID
			sg.TokenStatus = models.TokenStatusNone
			st.signers[sg.ID] = sg
		}
		for _, f := range p.Fields {
			f.DocumentID = p.DocumentID
			st.fields[f.ID] = f
		}
		return nil
	})
}

func (s *MemoryStore) GetSignerByTokenHash(ctx context.Context, hash string) (*models.Signer, error) {
	var out *models.Signer
	err := s.do(func(st *memState) error {
		for _, sg := range st.signers {
			if sg.TokenHash != nil && *sg.TokenHash == hash {
				sg := sg
				out = &sg
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) GetSignerByOrder(ctx context.Context, documentID string, order int) (*models.Signer, error) {
	var out *models.Signer
	err := s.do(func(st *memState) error {
		for _, sg := range st.signers {
			if sg.DocumentID == documentID && sg.Order == order {
				sg := sg
				out = &sg
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) listSigners(documentID string, keep func(models.Signer) bool) ([]models.Signer, error) {
	var out []models.Signer
	err := s.do(func(st *memState) error {
		for _, sg := range st.signers {
			if sg.DocumentID == documentID && keep(sg) {
				out = append(out, sg)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, err
}

func (s *MemoryStore) ListSigners(ctx context.Context, documentID string) ([]models.Signer, error) {
	return s.listSigners(documentID, func(models.Signer) bool { return true })
}

func (s *MemoryStore) ListCompletedSigners(ctx context.Context, documentID string) ([]models.Signer, error) {
	return s.listSigners(documentID, func(sg models.Signer) bool {
		return sg.TokenStatus == models.TokenStatusCompleted
	})
}

func (s *MemoryStore) UpdateSignerToken(ctx context.Context, signerID, hash string, expiresAt time.Time, onlyIf ...models.TokenStatus) (bool, error) {
	changed := false
	err := s.do(func(st *memState) error {
		sg, ok := st.signers[signerID]
		if !ok || (len(onlyIf) > 0 && !contains(onlyIf, sg.TokenStatus)) {
			return nil
		}
		for _, other := range st.signers {
			if other.ID != signerID && other.TokenHash != nil && *other.TokenHash == hash {
				return fmt.Errorf("token hash already in use")
			}
		}
		h, exp := hash, expiresAt
		sg.TokenHash = &h
		sg.TokenExpiresAt = &exp
		sg.TokenStatus = models.TokenStatusPending
		st.signers[signerID] = sg
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) CompleteSigner(ctx context.Context, c SignerCompletion) (bool, error) {
	changed := false
	err := s.do(func(st *memState) error {
		sg, ok := st.signers[c.SignerID]
		if !ok || sg.TokenHash == nil || *sg.TokenHash != c.TokenHash ||
			sg.TokenStatus != models.TokenStatusPending || sg.Expired(c.SignedAt) {
			return nil
		}
		signedAt := c.SignedAt
		sg.TokenStatus = models.TokenStatusCompleted
		sg.SignedAt = &signedAt
		sg.IPAddress = c.IPAddress
		st.signers[c.SignerID] = sg
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) ExpireSignerToken(ctx context.Context, signerID string, now time.Time) (bool, error) {
	changed := false
	err := s.do(func(st *memState) error {
		sg, ok := st.signers[signerID]
		if !ok || sg.TokenStatus != models.TokenStatusPending || !sg.Expired(now) {
			return nil
		}
		sg.TokenStatus = models.TokenStatusExpired
		st.signers[signerID] = sg
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) listFields(keep func(models.Field) bool) ([]models.Field, error) {
	var out []models.Field
	err := s.do(func(st *memState) error {
		for _, f := range st.fields {
			if keep(f) {
				out = append(out, f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageNumber != out[j].PageNumber {
			return out[i].PageNumber < out[j].PageNumber
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out, err
}

func (s *MemoryStore) ListAssignedFields(ctx context.Context, documentID, email string) ([]models.Field, error) {
	return s.listFields(func(f models.Field) bool {
		return f.DocumentID == documentID && f.AssignedTo(email)
	})
}

func (s *MemoryStore) ListValuedFields(ctx context.Context, documentID string) ([]models.Field, error) {
	return s.listFields(func(f models.Field) bool {
		return f.DocumentID == documentID && f.Value != nil
	})
}

func (s *MemoryStore) SetFieldValue(ctx context.Context, fieldID, documentID, email, value string) (bool, error) {
	changed := false
	err := s.do(func(st *memState) error {
		f, ok := st.fields[fieldID]
		if !ok || f.DocumentID != documentID || !f.AssignedTo(email) || f.Value != nil {
			return nil
		}
		v := value
		f.Value = &v
		st.fields[fieldID] = f
		changed = true
		return nil
	})
	return changed, err
}

func (s *MemoryStore) EnqueueRender(ctx context.Context, documentID string, at time.Time) error {
	return s.do(func(st *memState) error {
		st.jobs[documentID] = models.RenderJob{
			DocumentID:    documentID,
			Status:        models.RenderJobQueued,
			NextAttemptAt: at,
			UpdatedAt:     s.now(),
		}
		return nil
	})
}

func (s *MemoryStore) ClaimRenderJob(ctx context.Context, now time.Time) (*models.RenderJob, error) {
	var out *models.RenderJob
	err := s.do(func(st *memState) error {
		var due []models.RenderJob
		for _, j := range st.jobs {
			if (j.Status == models.RenderJobQueued || j.Status == models.RenderJobRunning) && !j.NextAttemptAt.After(now) {
				due = append(due, j)
			}
		}
		if len(due) == 0 {
			return ErrNotFound
		}
		sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
		j := due[0]
		j.Status = models.RenderJobRunning
		j.Attempts++
		j.NextAttemptAt = now.Add(renderLease)
		j.UpdatedAt = now
		st.jobs[j.DocumentID] = j
		out = &j
		return nil
	})
	return out, err
}

func (s *MemoryStore) FinishRenderJob(ctx context.Context, documentID string) error {
	return s.do(func(st *memState) error {
		j, ok := st.jobs[documentID]
		if !ok {
			return ErrNotFound
		}
		j.Status = models.RenderJobDone
		j.LastError = nil
		j.UpdatedAt = s.now()
		st.jobs[documentID] = j
		return nil
	})
}

func (s *MemoryStore) FailRenderJob(ctx context.Context, documentID, reason string, retryAt time.Time) error {
	return s.do(func(st *memState) error {
		j, ok := st.jobs[documentID]
		if !ok {
			return ErrNotFound
		}
		r := reason
		j.LastError = &r
		j.UpdatedAt = s.now()
		if retryAt.IsZero() {
			j.Status = models.RenderJobFailed
		} else {
			j.Status = models.RenderJobQueued
			j.NextAttemptAt = retryAt
		}
		st.jobs[documentID] = j
		return nil
	})
}

func (s *MemoryStore) GetRenderJob(ctx context.Context, documentID string) (*models.RenderJob, error) {
	var out *models.RenderJob
	err := s.do(func(st *memState) error {
		j, ok := st.jobs[documentID]
		if !ok {
			return ErrNotFound
		}
		out = &j
		return nil
	})
	return out, err
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
