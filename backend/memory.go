package backend

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"realtimechat/errs"
	"realtimechat/model"
)

// Op names a Memory operation for fault injection.
type Op string

const (
	OpGetProfile         Op = "get_profile"
	OpListProfiles       Op = "list_profiles"
	OpUpsertProfile      Op = "upsert_profile"
	OpEnsureConversation Op = "ensure_conversation"
	OpGetConversation    Op = "get_conversation"
	OpListConversations  Op = "list_conversations"
	OpAppendMessage      Op = "append_message"
	OpMessagesBefore     Op = "messages_before"
	OpMessagesAfter      Op = "messages_after"
	OpPut                Op = "put"
	OpStat               Op = "stat"
	OpGet                Op = "get"
	OpURL                Op = "url"
	OpWatch              Op = "watch"
)

type fault struct {
	err   error
	times int // remaining failures, negative is forever
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process backend. It serves local runs and tests, and
// supports fault injection per operation.
type Memory struct {
	// Now is the server clock; it defaults to time.Now.
	Now func() time.Time
	// BaseURL prefixes object URLs.
	BaseURL string
	// WatchBuffer bounds each watch; a watcher that falls behind is cut off.
	WatchBuffer int

	mu       sync.Mutex
	profiles map[string]model.User
	convs    map[string]model.Conversation
	messages map[string][]model.Message
	objects  map[string]model.AttachmentBlob
	cache    map[string]cacheEntry
	tokens   map[string]string
	fanout   *Fanout
	faults   map[Op]*fault
	calls    map[Op]int
}

func NewMemory() *Memory {
	return &Memory{
		Now:         time.Now,
		BaseURL:     "memory://objects",
		WatchBuffer: 256,
		profiles:    make(map[string]model.User),
		convs:       make(map[string]model.Conversation),
		messages:    make(map[string][]model.Message),
		objects:     make(map[string]model.AttachmentBlob),
		cache:       make(map[string]cacheEntry),
		tokens:      make(map[string]string),
		fanout:      NewFanout(nil),
		faults:      make(map[Op]*fault),
		calls:       make(map[Op]int),
	}
}

var (
	_ Documents = (*Memory)(nil)
	_ Objects   = (*Memory)(nil)
	_ Feed      = (*Memory)(nil)
	_ Publisher = (*Memory)(nil)
	_ Cache     = memCache{}
)

// Fail makes the next times calls of op return err; times < 0 fails forever.
func (m *Memory) Fail(op Op, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = &fault{err: err, times: times}
}

// Heal clears the fault on op.
func (m *Memory) Heal(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.faults, op)
}

// Calls returns how many times op was invoked, failed calls included.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter counts the call and returns the injected fault, if any. Callers hold m.mu.
func (m *Memory) enter(op Op) error {
	m.calls[op]++
	f, ok := m.faults[op]
	if !ok {
		return nil
	}
	if f.times == 0 {
		delete(m.faults, op)
		return nil
	}
	if f.times > 0 {
		f.times--
	}
	return f.err
}

func (m *Memory) now() int64 {
	return m.Now().UnixMilli()
}

func (m *Memory) GetProfile(ctx context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetProfile); err != nil {
		return model.User{}, err
	}
	u, ok := m.profiles[id]
	if !ok {
		return model.User{}, errs.NotFound("profile", id)
	}
	return u, nil
}

func (m *Memory) ListProfiles(ctx context.Context, q ProfileQuery) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListProfiles); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []model.User
	for _, id := range ids {
		if id <= q.After || id == q.Excluding {
			continue
		}
		u := m.profiles[id]
		if !q.AsOf.IsZero() && u.CreatedAt.After(q.AsOf) {
			continue
		}
		out = append(out, u)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) UpsertProfile(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertProfile); err != nil {
		return err
	}
	now := m.Now()
	if prev, ok := m.profiles[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.profiles[u.ID] = u
	return nil
}

func (m *Memory) EnsureConversation(ctx context.Context, c model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpEnsureConversation); err != nil {
		return err
	}
	if _, ok := m.convs[c.ID]; !ok {
		c.CreatedAt = m.Now()
		m.convs[c.ID] = c
	}
	return nil
}

func (m *Memory) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetConversation); err != nil {
		return model.Conversation{}, err
	}
	c, ok := m.convs[id]
	if !ok {
		return model.Conversation{}, errs.NotFound("conversation", id)
	}
	return c, nil
}

func (m *Memory) ListConversations(ctx context.Context, member string, limit int) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListConversations); err != nil {
		return nil, err
	}
	var out []model.Conversation
	for _, c := range m.convs {
		if c.LastSeq > 0 && c.HasMember(member) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTimestamp != out[j].LastTimestamp {
			return out[i].LastTimestamp > out[j].LastTimestamp
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAppendMessage); err != nil {
		return model.Message{}, err
	}
	conv, ok := m.convs[msg.ConversationID]
	if !ok {
		return model.Message{}, errs.NotFound("conversation", msg.ConversationID)
	}
	if !conv.HasMember(msg.SenderID) {
		return model.Message{}, errs.Validation("%s is not a participant of this conversation", msg.SenderID)
	}
	for _, existing := range m.messages[conv.ID] {
		if msg.ClientID != "" && existing.ClientID == msg.ClientID {
			return existing, nil
		}
	}

	ts := m.now()
	if ts < conv.LastTimestamp {
		ts = conv.LastTimestamp
	}
	msg.ID = uuid.NewString()
	msg.Seq = conv.LastSeq + 1
	msg.Timestamp = ts
	msg.State = model.StateSent
	msg.FailReason = ""
	conv.LastSeq, conv.LastTimestamp = msg.Seq, ts
	m.convs[conv.ID] = conv
	m.messages[conv.ID] = append(m.messages[conv.ID], msg)

	m.fanout.Dispatch(msg)
	return msg, nil
}

// SeedMessages stores messages as they are, without sequencing or fan-out.
func (m *Memory) SeedMessages(conversationID string, msgs ...model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.ConversationID = conversationID
		msg.State = model.StateSent
		m.messages[conversationID] = append(m.messages[conversationID], msg)
		if c, ok := m.convs[conversationID]; ok && msg.Seq > c.LastSeq {
			c.LastSeq, c.LastTimestamp = msg.Seq, msg.Timestamp
			m.convs[conversationID] = c
		}
	}
}

func (m *Memory) MessagesBefore(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMessagesBefore); err != nil {
		return nil, err
	}
	var out []model.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Timestamp < before {
			out = append(out, msg)
		}
	}
	model.SortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) MessagesAfter(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpMessagesAfter); err != nil {
		return nil, err
	}
	var out []model.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, blob model.AttachmentBlob) error {
	data := bytes.Clone(blob.Data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPut); err != nil {
		return err
	}
	if _, ok := m.objects[blob.Path]; ok {
		return nil
	}
	blob.Data = data
	blob.Size = int64(len(data))
	blob.Published = true
	blob.CreatedAt = m.Now()
	m.objects[blob.Path] = blob
	return nil
}

func (m *Memory) Stat(ctx context.Context, path string) (model.AttachmentBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpStat); err != nil {
		return model.AttachmentBlob{}, err
	}
	blob, ok := m.objects[path]
	if !ok {
		return model.AttachmentBlob{}, errs.NotFound("object", path)
	}
	blob.Data = nil
	return blob, nil
}

func (m *Memory) Get(ctx context.Context, path string) (model.AttachmentBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGet); err != nil {
		return model.AttachmentBlob{}, err
	}
	blob, ok := m.objects[path]
	if !ok {
		return model.AttachmentBlob{}, errs.NotFound("object", path)
	}
	blob.Data = bytes.Clone(blob.Data)
	return blob, nil
}

func (m *Memory) URL(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpURL); err != nil {
		return "", err
	}
	if _, ok := m.objects[path]; !ok {
		return "", errs.NotFound("object", path)
	}
	return strings.TrimSuffix(m.BaseURL, "/") + "/v1/" + path, nil
}

// Cache returns the expiring key/value view of m.
func (m *Memory) Cache() Cache { return memCache{m} }

type memCache struct{ m *Memory }

func (c memCache) Get(ctx context.Context, key string) (string, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	e, ok := c.m.cache[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expires.IsZero() && !c.m.Now().Before(e.expires) {
		delete(c.m.cache, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (c memCache) Take(ctx context.Context, key string) (string, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	e, ok := c.m.cache[key]
	if !ok {
		return "", ErrCacheMiss
	}
	delete(c.m.cache, key)
	if !e.expires.IsZero() && !c.m.Now().Before(e.expires) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (c memCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expires = c.m.Now().Add(ttl)
	}
	c.m.cache[key] = e
	return nil
}

func (c memCache) Del(ctx context.Context, keys ...string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for _, k := range keys {
		delete(c.m.cache, k)
	}
	return nil
}

// IssueToken creates a session credential for uid.
func (m *Memory) IssueToken(uid string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.tokens[token] = uid
	return token
}

// RevokeToken ends the session behind token.
func (m *Memory) RevokeToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// Verify maps a credential issued by IssueToken back to its user id.
func (m *Memory) Verify(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.tokens[token]
	if !ok {
		return "", errs.ErrUnauthenticated
	}
	return uid, nil
}

// Watch registers a live watcher for conversationID.
func (m *Memory) Watch(ctx context.Context, conversationID string) (Watch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpWatch); err != nil {
		return nil, err
	}
	return m.fanout.Add(conversationID, m.WatchBuffer), nil
}

// Publish fans msg out to the conversation's watchers.
func (m *Memory) Publish(ctx context.Context, msg model.Message) error {
	m.fanout.Dispatch(msg)
	return nil
}

// BreakWatches ends every watch on conversationID with err, as a dropped connection would.
func (m *Memory) BreakWatches(conversationID string, err error) {
	m.fanout.End(conversationID, err)
}

// Watchers returns the number of open watches on conversationID.
func (m *Memory) Watchers(conversationID string) int {
	return m.fanout.Count(conversationID)
}
