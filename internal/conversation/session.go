package conversation

import (
	"context"
	"sync"

	"capsules/internal/errs"
	"capsules/internal/logger"
)

// SessionStore is the slice of the repository a session reads from.
type SessionStore interface {
	RecentMessages(ctx context.Context, friendshipID string, limit int) ([]Message, error)
	CapsulesByActivity(ctx context.Context, friendshipID string) ([]Capsule, error)
	CapsuleCounts(ctx context.Context, capsuleID, viewerID string) (total, unread int, err error)
	CapsuleMessages(ctx context.Context, capsuleID string) ([]Message, error)
	ThreadMessages(ctx context.Context, threadID string) ([]Message, error)
	MomentsFor(ctx context.Context, viewerID string) ([]SharedMoment, error)
	MomentByID(ctx context.Context, id string) (*SharedMoment, error)
	MarkMessagesRead(ctx context.Context, ids []string) error
	MarkMessageRead(ctx context.Context, id string) error
}

// URLResolver resolves stored object paths to temporary URLs. Implemented by
// storage.Resolver.
type URLResolver interface {
	ResolveURLs(ctx context.Context, paths []string) []string
}

// Subscriber hands out one live envelope stream per conversation. The stream
// closes when ctx is cancelled. Envelopes arrive in commit order.
type Subscriber interface {
	Subscribe(ctx context.Context, friendshipID string) (<-chan Envelope, error)
}

// SessionConfig wires one viewer's session to its collaborators.
type SessionConfig struct {
	Log      *logger.Logger
	Store    SessionStore
	Resolver URLResolver
	Sub      Subscriber

	ViewerID     string
	FriendID     string
	FriendshipID string

	Caps Capabilities

	// MessageLimit caps the bootstrap message slice. Defaults to 50.
	MessageLimit int

	// Notify, when set, is called from the session goroutine after each
	// merged event. The event's data is safe to read; session state is not.
	Notify func(Event)
}

// Session holds one viewer's live view of one conversation: the bootstrap
// snapshot plus every realtime event merged incrementally. All merges run on
// a single goroutine, so list order always equals delivery order; Snapshot
// and the Open* accessors take the state mutex.
type Session struct {
	log      *logger.Logger
	store    SessionStore
	resolver URLResolver
	sub      Subscriber
	caps     Capabilities
	notify   func(Event)

	viewerID     string
	friendID     string
	friendshipID string
	messageLimit int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	messages        []Message
	capsules        []Capsule
	moments         []SharedMoment
	momentsByID     map[string]SharedMoment
	seenMessages    map[string]struct{}
	threads         map[string]Thread
	openCapsuleID   string
	capsuleMessages []Message
	openThreadID    string
	threadMessages  []Message
}

func NewSession(cfg SessionConfig) *Session {
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = 50
	}
	return &Session{
		log:          cfg.Log.With("friendship_id", cfg.FriendshipID, "viewer_id", cfg.ViewerID),
		store:        cfg.Store,
		resolver:     cfg.Resolver,
		sub:          cfg.Sub,
		caps:         cfg.Caps,
		notify:       cfg.Notify,
		viewerID:     cfg.ViewerID,
		friendID:     cfg.FriendID,
		friendshipID: cfg.FriendshipID,
		messageLimit: limit,
		done:         make(chan struct{}),
		momentsByID:  make(map[string]SharedMoment),
		seenMessages: make(map[string]struct{}),
		threads:      make(map[string]Thread),
	}
}

// Start subscribes to the conversation channel, loads the initial snapshot,
// and begins merging live events. Subscribing before the snapshot load means
// no event can fall between the two; an event that shows up in both is
// absorbed by the id dedup on merge.
func (s *Session) Start(ctx context.Context) (Snapshot, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ch, err := s.sub.Subscribe(s.ctx, s.friendshipID)
	if err != nil {
		s.cancel()
		close(s.done)
		return Snapshot{}, err
	}

	s.bootstrap(s.ctx)
	go s.run(ch)
	return s.snapshotLocked(), nil
}

// Close tears the session down: the subscription ends and no state is
// mutated afterwards. Safe to call more than once.
func (s *Session) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// bootstrap fans out the three initial queries. Each slice degrades to empty
// on failure instead of aborting the others; capsule count enrichment
// degrades per capsule to zero.
func (s *Session) bootstrap(ctx context.Context) {
	var (
		wg       sync.WaitGroup
		messages []Message
		capsules []Capsule
		moments  []SharedMoment
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		messages, err = s.store.RecentMessages(ctx, s.friendshipID, s.messageLimit)
		if err != nil {
			s.log.Error("bootstrap: loading messages failed", "err", err)
			messages = nil
		}
	}()

	if s.caps.Capsules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			capsules, err = s.store.CapsulesByActivity(ctx, s.friendshipID)
			if err != nil {
				s.log.Error("bootstrap: loading capsules failed", "err", err)
				capsules = nil
			}
		}()
	}

	if s.caps.Moments {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			moments, err = s.store.MomentsFor(ctx, s.viewerID)
			if err != nil {
				s.log.Error("bootstrap: loading moments failed", "err", err)
				moments = nil
			}
		}()
	}

	wg.Wait()

	for i := range capsules {
		total, unread, err := s.store.CapsuleCounts(ctx, capsules[i].ID, s.viewerID)
		if err != nil {
			s.log.Warn("bootstrap: capsule counts failed", "capsule_id", capsules[i].ID, "err", err)
			continue
		}
		capsules[i].MessageCount = total
		capsules[i].UnreadCount = unread
	}

	for i := range moments {
		moments[i].ImageURLs = s.resolver.ResolveURLs(ctx, moments[i].Paths())
	}

	var unreadIDs []string
	for i := range messages {
		if messages[i].RecipientID == s.viewerID && !messages[i].IsRead {
			unreadIDs = append(unreadIDs, messages[i].ID)
			messages[i].IsRead = true
		}
	}
	if len(unreadIDs) > 0 {
		if err := s.store.MarkMessagesRead(ctx, unreadIDs); err != nil {
			s.log.Error("bootstrap: mark read failed", "err", err)
		}
	}

	s.mu.Lock()
	s.messages = messages
	s.capsules = capsules
	s.moments = moments
	for i := range messages {
		s.seenMessages[messages[i].ID] = struct{}{}
	}
	for _, m := range moments {
		s.momentsByID[m.ID] = m
	}
	s.mu.Unlock()
}

func (s *Session) run(ch <-chan Envelope) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			s.handle(env)
		}
	}
}

// handle classifies, enriches, and merges one envelope. A failure here is
// logged and the event is merged with whatever data is available; nothing
// may kill the subscription loop.
func (s *Session) handle(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panic", "recovered", r)
		}
	}()

	ev, err := Classify(env)
	if err != nil {
		s.log.Error("dropping unclassifiable event", "err", err)
		return
	}

	ev = s.enrich(ev)

	// Still-mounted guard: an event pulled off the channel just as Close
	// runs must not touch state.
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	merged := s.merge(ev)
	s.mu.Unlock()
	if !merged {
		return
	}

	s.ackRemote(ev)

	if s.notify != nil {
		s.notify(ev)
	}
}

// enrich performs classification side-fetches: resolving a referenced moment
// the session has not seen, and signing a fresh moment's image paths.
// Failures degrade to partial data.
func (s *Session) enrich(ev Event) Event {
	switch e := ev.(type) {
	case MomentAttachment:
		if !s.caps.Moments {
			return e
		}
		s.mu.Lock()
		known, ok := s.momentsByID[e.MomentID]
		s.mu.Unlock()
		if ok {
			e.Moment = &known
			return e
		}
		moment, err := s.store.MomentByID(s.ctx, e.MomentID)
		if err != nil {
			s.log.Warn("moment side-fetch failed, merging without it", "moment_id", e.MomentID, "err", err)
			return e
		}
		moment.ImageURLs = s.resolver.ResolveURLs(s.ctx, moment.Paths())
		e.Moment = moment
		return e
	case MomentShared:
		e.Moment.ImageURLs = s.resolver.ResolveURLs(s.ctx, e.Moment.Paths())
		return e
	default:
		return ev
	}
}

// merge applies one classified event to session state. O(1) amortized per
// event; never re-fetches the conversation. Caller holds s.mu. Returns false
// when the event was irrelevant or a duplicate.
func (s *Session) merge(ev Event) bool {
	switch e := ev.(type) {
	case PlainMessage:
		if !s.markSeen(e.Message.ID) {
			return false
		}
		return prependMessage(&s.messages, e.Message)

	case CapsuleMessage:
		if !s.caps.Capsules {
			return false
		}
		if !s.markSeen(e.Message.ID) {
			return false
		}
		if e.CapsuleID == s.openCapsuleID {
			prependMessage(&s.capsuleMessages, e.Message)
		}
		for i := range s.capsules {
			if s.capsules[i].ID != e.CapsuleID {
				continue
			}
			s.capsules[i].LastActivityAt = e.Message.CreatedAt
			s.capsules[i].MessageCount++
			if e.Message.SenderID != s.viewerID {
				s.capsules[i].UnreadCount++
			}
			break
		}
		return true

	case ThreadMessage:
		if !s.caps.Threads {
			return false
		}
		if !s.markSeen(e.Message.ID) {
			return false
		}
		if e.ThreadID == s.openThreadID {
			prependMessage(&s.threadMessages, e.Message)
		}
		t := s.threads[e.ThreadID]
		t.ID = e.ThreadID
		t.LastMessageAt = e.Message.CreatedAt
		t.MessageCount++
		if e.Message.SenderID != s.viewerID {
			t.UnreadCount++
		}
		s.threads[e.ThreadID] = t
		return true

	case MomentAttachment:
		if !s.markSeen(e.Message.ID) {
			return false
		}
		if e.Moment != nil {
			if _, seen := s.momentsByID[e.Moment.ID]; !seen {
				s.momentsByID[e.Moment.ID] = *e.Moment
				s.moments = append([]SharedMoment{*e.Moment}, s.moments...)
			}
		}
		return prependMessage(&s.messages, e.Message)

	case CapsuleCreated:
		if !s.caps.Capsules {
			return false
		}
		for i := range s.capsules {
			if s.capsules[i].ID == e.Capsule.ID {
				return false
			}
		}
		s.capsules = append([]Capsule{e.Capsule}, s.capsules...)
		return true

	case MomentShared:
		if !s.caps.Moments {
			return false
		}
		m := e.Moment
		if m.UploaderID != s.viewerID && m.SharedWithID != s.viewerID {
			return false
		}
		if _, seen := s.momentsByID[m.ID]; seen {
			return false
		}
		s.momentsByID[m.ID] = m
		s.moments = append([]SharedMoment{m}, s.moments...)
		return true
	}
	return false
}

// ackRemote fires the single-message mark-as-read for messages sent by the
// remote party. Fire-and-forget: a failure only delays the flip until the
// next bootstrap.
func (s *Session) ackRemote(ev Event) {
	var msg *Message
	switch e := ev.(type) {
	case PlainMessage:
		msg = &e.Message
	case CapsuleMessage:
		msg = &e.Message
	case ThreadMessage:
		msg = &e.Message
	case MomentAttachment:
		msg = &e.Message
	default:
		return
	}
	if msg.SenderID == s.viewerID {
		return
	}
	id := msg.ID
	go func() {
		if err := s.store.MarkMessageRead(s.ctx, id); err != nil {
			s.log.Warn("mark read failed", "message_id", id, "err", err)
		}
	}()
}

// markSeen records a message id, reporting whether it was new. Loaded and
// delivered ids both land here, which is what absorbs a row arriving through
// more than one path: once for real, every echo after that is a no-op, so
// aggregates never drift on a duplicate. Caller holds s.mu.
func (s *Session) markSeen(id string) bool {
	if _, ok := s.seenMessages[id]; ok {
		return false
	}
	s.seenMessages[id] = struct{}{}
	return true
}

// prependMessage inserts newest-first, skipping ids already present.
func prependMessage(list *[]Message, m Message) bool {
	for i := range *list {
		if (*list)[i].ID == m.ID {
			return false
		}
	}
	*list = append([]Message{m}, *list...)
	return true
}

// OpenCapsule loads a capsule's messages, marks the viewer's unread ones
// read, and routes subsequent capsule events for it into the open list.
func (s *Session) OpenCapsule(ctx context.Context, capsuleID string) ([]Message, error) {
	if !s.caps.Capsules {
		return nil, errs.Forbidden("capsules are disabled for this session")
	}
	msgs, err := s.store.CapsuleMessages(ctx, capsuleID)
	if err != nil {
		return nil, err
	}

	var unreadIDs []string
	for i := range msgs {
		if msgs[i].RecipientID == s.viewerID && !msgs[i].IsRead {
			unreadIDs = append(unreadIDs, msgs[i].ID)
			msgs[i].IsRead = true
		}
	}
	if len(unreadIDs) > 0 {
		if err := s.store.MarkMessagesRead(ctx, unreadIDs); err != nil {
			s.log.Error("open capsule: mark read failed", "err", err)
		}
	}

	s.mu.Lock()
	s.openCapsuleID = capsuleID
	s.capsuleMessages = msgs
	for i := range msgs {
		s.seenMessages[msgs[i].ID] = struct{}{}
	}
	for i := range s.capsules {
		if s.capsules[i].ID == capsuleID {
			s.capsules[i].UnreadCount = 0
		}
	}
	s.mu.Unlock()
	return copyMessages(msgs), nil
}

// CloseCapsule returns the viewer to the top-level message list.
func (s *Session) CloseCapsule() {
	s.mu.Lock()
	s.openCapsuleID = ""
	s.capsuleMessages = nil
	s.mu.Unlock()
}

// OpenThread is the thread counterpart of OpenCapsule.
func (s *Session) OpenThread(ctx context.Context, threadID string) ([]Message, error) {
	if !s.caps.Threads {
		return nil, errs.Forbidden("threads are disabled for this session")
	}
	msgs, err := s.store.ThreadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var unreadIDs []string
	for i := range msgs {
		if msgs[i].RecipientID == s.viewerID && !msgs[i].IsRead {
			unreadIDs = append(unreadIDs, msgs[i].ID)
			msgs[i].IsRead = true
		}
	}
	if len(unreadIDs) > 0 {
		if err := s.store.MarkMessagesRead(ctx, unreadIDs); err != nil {
			s.log.Error("open thread: mark read failed", "err", err)
		}
	}

	s.mu.Lock()
	s.openThreadID = threadID
	s.threadMessages = msgs
	for i := range msgs {
		s.seenMessages[msgs[i].ID] = struct{}{}
	}
	t := s.threads[threadID]
	t.ID = threadID
	t.UnreadCount = 0
	s.threads[threadID] = t
	s.mu.Unlock()
	return copyMessages(msgs), nil
}

func (s *Session) CloseThread() {
	s.mu.Lock()
	s.openThreadID = ""
	s.threadMessages = nil
	s.mu.Unlock()
}

// Snapshot copies the current view state.
func (s *Session) Snapshot() Snapshot {
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Messages: copyMessages(s.messages),
		Capsules: append([]Capsule(nil), s.capsules...),
		Moments:  append([]SharedMoment(nil), s.moments...),
	}
}

// Capsules returns the capsule list with its live aggregates.
func (s *Session) Capsules() []Capsule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Capsule(nil), s.capsules...)
}

// Thread returns the live aggregate for one thread, if the session has seen
// any activity on it.
func (s *Session) Thread(threadID string) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	return t, ok
}

// CapsuleMessagesOpen returns the open capsule's message list.
func (s *Session) CapsuleMessagesOpen() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.capsuleMessages)
}

func copyMessages(in []Message) []Message {
	return append([]Message(nil), in...)
}
