// Package casestore scopes key/value data to one jurisdiction and case:
// subject roles and masks, aliases, document to task associations, formatted
// results, the list of documents waiting for their chain and the task whose
// chain is in flight.
//
// Every key of a case expires at the same instant, fixed by the first Init
// of the case and recorded in the expires sentinel key.
package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/redaction-api/internal/domain"
	"github.com/phrazzld/redaction-api/internal/domain/mask"
	"github.com/phrazzld/redaction-api/internal/kv"
)

// ErrUninitialized is returned by writes issued before Init.
var ErrUninitialized = errors.New("case store is not initialized")

// DefaultTTL is how long case data lives after the case is first seen.
const DefaultTTL = 7 * 24 * time.Hour

const (
	categoryMask    = "mask"
	categoryRole    = "role"
	categoryTask    = "task"
	categoryObjects = "objects"
	categoryExpires = "expires"
	categoryAliases = "aliases"
	categoryResult  = "result"
	categoryActive  = "active"
)

// CaseStore is a façade over one kv.Session for one case. It is not safe for
// concurrent use; open one per unit of work.
type CaseStore struct {
	sess           kv.Session
	jurisdictionID string
	caseID         string
	expiresAt      time.Time
	initialized    bool
}

func New(sess kv.Session, jurisdictionID, caseID string) *CaseStore {
	return &CaseStore{sess: sess, jurisdictionID: jurisdictionID, caseID: caseID}
}

// Key builds "{jurisdiction}:{case}:{category}[:{sub}...]".
func Key(jurisdictionID, caseID, category string, sub ...string) string {
	parts := append([]string{jurisdictionID, caseID, category}, sub...)
	return strings.Join(parts, ":")
}

func (c *CaseStore) key(category string, sub ...string) string {
	return Key(c.jurisdictionID, c.caseID, category, sub...)
}

// Init loads the case's expiry, creating it ttl from now (server clock) if
// the case is new. Calling Init again on the same CaseStore does nothing.
func (c *CaseStore) Init(ctx context.Context, ttl time.Duration) error {
	if c.initialized {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := c.key(categoryExpires)
	raw, err := c.sess.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		now, terr := c.sess.Time(ctx)
		if terr != nil {
			return fmt.Errorf("failed to read server time: %w", terr)
		}
		expiresAt := now.Add(ttl).Truncate(time.Second).UTC()
		created, serr := c.sess.SetNX(ctx, key, []byte(strconv.FormatInt(expiresAt.Unix(), 10)), expiresAt)
		if serr != nil {
			return fmt.Errorf("failed to create case expiry: %w", serr)
		}
		if created {
			c.expiresAt = expiresAt
			c.initialized = true
			return nil
		}
		// Another first request for the case won; use its expiry.
		raw, err = c.sess.Get(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("failed to read case expiry: %w", err)
	}
	unix, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry for case %s:%s: %w", c.jurisdictionID, c.caseID, err)
	}
	c.expiresAt = time.Unix(unix, 0).UTC()
	c.initialized = true
	return nil
}

// ExpiresAt is zero until Init has run.
func (c *CaseStore) ExpiresAt() time.Time {
	return c.expiresAt
}

func (c *CaseStore) checkInit() error {
	if !c.initialized {
		return ErrUninitialized
	}
	return nil
}

func (c *CaseStore) hset(ctx context.Context, key string, values map[string]string) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	c.sess.HSet(ctx, key, values)
	c.sess.ExpireAt(ctx, key, c.expiresAt)
	return nil
}

// SaveRoles records subject id to role.
func (c *CaseStore) SaveRoles(ctx context.Context, roles map[string]string) error {
	return c.hset(ctx, c.key(categoryRole), roles)
}

// Roles returns subject id to role.
func (c *CaseStore) Roles(ctx context.Context) (map[string]string, error) {
	return c.sess.HGetAll(ctx, c.key(categoryRole))
}

// SubjectIDs lists the case's subjects in id order.
func (c *CaseStore) SubjectIDs(ctx context.Context) ([]string, error) {
	roles, err := c.Roles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveDocTask associates a document with the task that redacts it.
func (c *CaseStore) SaveDocTask(ctx context.Context, documentID, taskID string) error {
	return c.hset(ctx, c.key(categoryTask), map[string]string{documentID: taskID})
}

// GetDocTasks returns document id to task id.
func (c *CaseStore) GetDocTasks(ctx context.Context) (map[string]string, error) {
	return c.sess.HGetAll(ctx, c.key(categoryTask))
}

// SaveMasks records subject id to mask.
func (c *CaseStore) SaveMasks(ctx context.Context, masks map[string]string) error {
	return c.hset(ctx, c.key(categoryMask), masks)
}

// SaveAlias adds a name to the subject's alias set. A primary alias also
// replaces the subject's primary name.
func (c *CaseStore) SaveAlias(ctx context.Context, subjectID string, alias domain.Name, primary bool) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	raw, err := json.Marshal(alias)
	if err != nil {
		return fmt.Errorf("failed to encode alias: %w", err)
	}

	setKey := c.key(categoryAliases, subjectID)
	c.sess.SAdd(ctx, setKey, string(raw))
	c.sess.ExpireAt(ctx, setKey, c.expiresAt)

	if primary {
		primaryKey := c.key(categoryAliases, subjectID, "primary")
		c.sess.Set(ctx, primaryKey, raw)
		c.sess.ExpireAt(ctx, primaryKey, c.expiresAt)
	}
	return nil
}

// SaveSubjects records roles and names for every subject of a request. The
// subject's name is its primary alias.
func (c *CaseStore) SaveSubjects(ctx context.Context, subjects []domain.Subject) error {
	roles := make(map[string]string, len(subjects))
	for _, s := range subjects {
		roles[s.Subject.SubjectID] = s.Role
		if err := c.SaveAlias(ctx, s.Subject.SubjectID, s.Subject.Name, true); err != nil {
			return err
		}
		for _, a := range s.Subject.Aliases {
			if err := c.SaveAlias(ctx, s.Subject.SubjectID, a, false); err != nil {
				return err
			}
		}
	}
	return c.SaveRoles(ctx, roles)
}

// SubjectAliases returns every name recorded for the subject.
func (c *CaseStore) SubjectAliases(ctx context.Context, subjectID string) ([]domain.Name, error) {
	members, err := c.sess.SMembers(ctx, c.key(categoryAliases, subjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases: %w", err)
	}
	sort.Strings(members)
	names := make([]domain.Name, 0, len(members))
	for _, m := range members {
		var n domain.Name
		if err := json.Unmarshal([]byte(m), &n); err != nil {
			return nil, fmt.Errorf("invalid alias for subject %s: %w", subjectID, err)
		}
		names = append(names, n)
	}
	return names, nil
}

// PrimaryAlias returns the subject's primary name; ok is false if none was
// saved.
func (c *CaseStore) PrimaryAlias(ctx context.Context, subjectID string) (domain.Name, bool, error) {
	raw, err := c.sess.Get(ctx, c.key(categoryAliases, subjectID, "primary"))
	if errors.Is(err, kv.ErrNotFound) {
		return domain.Name{}, false, nil
	}
	if err != nil {
		return domain.Name{}, false, err
	}
	var n domain.Name
	if err := json.Unmarshal(raw, &n); err != nil {
		return domain.Name{}, false, fmt.Errorf("invalid primary alias for subject %s: %w", subjectID, err)
	}
	return n, true, nil
}

// GetAliases returns the masked subjects of the case, ordered by subject id.
func (c *CaseStore) GetAliases(ctx context.Context) ([]domain.MaskedSubject, error) {
	masks, err := c.sess.HGetAll(ctx, c.key(categoryMask))
	if err != nil {
		return nil, fmt.Errorf("failed to read masks: %w", err)
	}
	out := make([]domain.MaskedSubject, 0, len(masks))
	for subject, alias := range masks {
		out = append(out, domain.MaskedSubject{SubjectID: subject, Alias: alias})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// SaveResult stores the formatted output document for a document id.
func (c *CaseStore) SaveResult(ctx context.Context, documentID string, doc domain.Document) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	key := c.key(categoryResult, documentID)
	c.sess.Set(ctx, key, raw)
	c.sess.ExpireAt(ctx, key, c.expiresAt)
	return nil
}

// GetResult returns nil when no result was stored for the document.
func (c *CaseStore) GetResult(ctx context.Context, documentID string) (*domain.Document, error) {
	raw, err := c.sess.Get(ctx, c.key(categoryResult, documentID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid stored result for document %s: %w", documentID, err)
	}
	return &doc, nil
}

// EnqueueObject defers a task until the case's current chain finishes.
func (c *CaseStore) EnqueueObject(ctx context.Context, taskID string) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	key := c.key(categoryObjects)
	c.sess.Enqueue(ctx, key, taskID)
	c.sess.ExpireAt(ctx, key, c.expiresAt)
	return nil
}

// PeekObject returns the next deferred task id without removing it. ok is
// false when nothing is waiting.
func (c *CaseStore) PeekObject(ctx context.Context) (string, bool, error) {
	return c.sess.Peek(ctx, c.key(categoryObjects))
}

// RemoveObject drops a deferred task id from the list.
func (c *CaseStore) RemoveObject(ctx context.Context, taskID string) error {
	_, err := c.sess.Remove(ctx, c.key(categoryObjects), taskID)
	return err
}

// AcquireChain records taskID as the case's chain in flight unless another
// task already holds that place. The claim lapses after lease unless
// HoldChain extends it.
func (c *CaseStore) AcquireChain(ctx context.Context, taskID string, lease time.Duration) (bool, error) {
	if err := c.checkInit(); err != nil {
		return false, err
	}
	now, err := c.sess.Time(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read server time: %w", err)
	}
	until := now.Add(lease)
	if until.After(c.expiresAt) {
		until = c.expiresAt
	}
	return c.sess.SetNX(ctx, c.key(categoryActive), []byte(taskID), until)
}

// HoldChain keeps the chain claim until the case expires.
func (c *CaseStore) HoldChain(ctx context.Context) error {
	if err := c.checkInit(); err != nil {
		return err
	}
	c.sess.ExpireAt(ctx, c.key(categoryActive), c.expiresAt)
	return nil
}

// ActiveChain returns the task id holding the case's chain; ok is false
// when no chain is in flight.
func (c *CaseStore) ActiveChain(ctx context.Context) (string, bool, error) {
	raw, err := c.sess.Get(ctx, c.key(categoryActive))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// ReleaseChain clears the chain claim if taskID still holds it.
func (c *CaseStore) ReleaseChain(ctx context.Context, taskID string) (bool, error) {
	return c.sess.DeleteIf(ctx, c.key(categoryActive), []byte(taskID))
}

// MaskInfo is what the redaction engine needs to know about a case.
type MaskInfo struct {
	// Masks maps subject id to mask, including newly assigned masks.
	Masks map[string]string
	// Assigned holds the masks created by this lookup; persist them with
	// SaveMasks.
	Assigned map[string]string
	// Names maps subject id to display name.
	Names map[string]string
	// NameMasks maps every known name of every subject to its mask.
	NameMasks map[string]string
}

// MaskedSubjects lists Masks ordered by subject id.
func (m *MaskInfo) MaskedSubjects() []domain.MaskedSubject {
	out := make([]domain.MaskedSubject, 0, len(m.Masks))
	for s, a := range m.Masks {
		out = append(out, domain.MaskedSubject{SubjectID: s, Alias: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// GetMaskInfo collects roles, masks and names for the case. Subjects with a
// role but no mask get the next mask for their role, numbered after every
// mask already issued in the case.
func (c *CaseStore) GetMaskInfo(ctx context.Context) (*MaskInfo, error) {
	roles, err := c.sess.HGetAll(ctx, c.key(categoryRole))
	if err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	masks, err := c.sess.HGetAll(ctx, c.key(categoryMask))
	if err != nil {
		return nil, fmt.Errorf("failed to read masks: %w", err)
	}

	existing := make([]string, 0, len(masks))
	for _, m := range masks {
		existing = append(existing, m)
	}
	enum, err := mask.NewRoleEnumerator(existing...)
	if err != nil {
		return nil, err
	}

	subjects := make([]string, 0, len(roles))
	for s := range roles {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	info := &MaskInfo{
		Masks:     make(map[string]string, len(subjects)),
		Assigned:  make(map[string]string),
		Names:     make(map[string]string, len(subjects)),
		NameMasks: make(map[string]string),
	}
	for s, m := range masks {
		info.Masks[s] = m
	}

	for _, s := range subjects {
		m, ok := info.Masks[s]
		if !ok {
			m = enum.Next(roles[s])
			info.Masks[s] = m
			info.Assigned[s] = m
		}

		aliases, err := c.SubjectAliases(ctx, s)
		if err != nil {
			return nil, err
		}
		for _, a := range aliases {
			if name := a.String(); name != "" {
				info.NameMasks[name] = m
			}
		}

		primary, ok, err := c.PrimaryAlias(ctx, s)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			info.Names[s] = primary.String()
			if name := primary.String(); name != "" {
				info.NameMasks[name] = m
			}
		case len(aliases) > 0:
			info.Names[s] = aliases[0].String()
		}
	}
	return info, nil
}
