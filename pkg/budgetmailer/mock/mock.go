// Package mock implements an in-memory BudgetMailer API. API is an
// http.Handler answering the same routes and status codes as the hosted
// service, including signature checks, so the real client can be exercised
// against it over a socket.
package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/budgetmailer/budgetmailer_sdk_go/internal/signer"
)

const (
	DefaultKey    = "mock-key"
	DefaultSecret = "mock-secret"
	DefaultList   = "newsletter"
)

// List is a contact list served by GET lists.
type List struct {
	ID      string `json:"id"`
	List    string `json:"list"`
	Primary bool   `json:"primary"`
}

type record struct {
	fields map[string]any
	tags   []string
	seq    int
}

func (r *record) email() string {
	s, _ := r.fields["email"].(string)
	return s
}

func (r *record) id() string {
	s, _ := r.fields["id"].(string)
	return s
}

func (r *record) view() map[string]any {
	out := make(map[string]any, len(r.fields)+1)
	for k, v := range r.fields {
		out[k] = v
	}
	out["tags"] = append([]string{}, r.tags...)
	return out
}

type book struct {
	list    List
	records map[string]*record
}

// API is an in-memory BudgetMailer account.
type API struct {
	mu       sync.Mutex
	key      string
	secret   string
	books    []*book
	salts    map[string]struct{}
	requests map[string]int
	total    int
	seq      int
	now      func() time.Time
	newID    func() string
	mux      *http.ServeMux
}

// Option configures the mock instance.
type Option func(*API)

// WithCredentials sets the API key and secret requests must be signed with.
// An empty secret disables authentication.
func WithCredentials(key, secret string) Option {
	return func(a *API) {
		a.key = key
		a.secret = secret
	}
}

// WithLists replaces the default single list.
func WithLists(lists ...List) Option {
	return func(a *API) {
		a.books = a.books[:0]
		for _, l := range lists {
			a.books = append(a.books, &book{list: l, records: make(map[string]*record)})
		}
	}
}

// WithClock overrides the clock used for created/updated stamps.
func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithIDGenerator overrides how contact ids are assigned.
func WithIDGenerator(fn func() string) Option {
	return func(a *API) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// New creates an API holding one empty primary list named DefaultList and
// accepting DefaultKey/DefaultSecret.
func New(opts ...Option) *API {
	a := &API{
		key:      DefaultKey,
		secret:   DefaultSecret,
		salts:    make(map[string]struct{}),
		requests: make(map[string]int),
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string { return uuid.NewString() },
	}
	a.books = []*book{{
		list:    List{ID: DefaultList, List: DefaultList, Primary: true},
		records: make(map[string]*record),
	}}
	for _, opt := range opts {
		opt(a)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /lists", a.handleLists)
	mux.HandleFunc("GET /contacts/{list}/{$}", a.handleListContacts)
	mux.HandleFunc("POST /contacts/{list}", a.handleCreateContact)
	mux.HandleFunc("POST /contacts/{list}/bulk", a.handleBulk)
	mux.HandleFunc("GET /contacts/{list}/{contact}", a.handleGetContact)
	mux.HandleFunc("PUT /contacts/{list}/{contact}", a.handlePutContact)
	mux.HandleFunc("DELETE /contacts/{list}/{contact}", a.handleDeleteContact)
	mux.HandleFunc("GET /contacts/{list}/{contact}/tags", a.handleGetTags)
	mux.HandleFunc("POST /contacts/{list}/{contact}/tags", a.handlePostTags)
	mux.HandleFunc("DELETE /contacts/{list}/{contact}/tags/{tag}", a.handleDeleteTag)
	a.mux = mux
	return a
}

// Key returns the API key requests must carry.
func (a *API) Key() string { return a.key }

// Secret returns the signing secret.
func (a *API) Secret() string { return a.secret }

// PrimaryList returns the id of the primary list, or of the first list when
// none is flagged.
func (a *API) PrimaryList() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.books {
		if b.list.Primary {
			return b.list.ID
		}
	}
	if len(a.books) > 0 {
		return a.books[0].list.ID
	}
	return ""
}

// Requests returns how many authenticated requests were served.
func (a *API) Requests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// RequestsFor returns how many authenticated requests matched route, given
// as "METHOD pattern" (e.g. "GET /lists"), whatever status they were answered
// with.
func (a *API) RequestsFor(route string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[route]
}

// Contact returns a copy of a stored contact, looked up by email or id.
func (a *API) Contact(list, emailOrID string) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.book(list)
	if b == nil {
		return nil, false
	}
	r := b.find(emailOrID)
	if r == nil {
		return nil, false
	}
	return r.view(), true
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.authorised(r) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if _, pattern := a.mux.Handler(r); pattern != "" {
		a.mu.Lock()
		a.total++
		a.requests[pattern]++
		a.mu.Unlock()
	}
	a.mux.ServeHTTP(w, r)
}

// authorised checks apikey, salt and signature. Each salt is accepted once.
func (a *API) authorised(r *http.Request) bool {
	if a.secret == "" {
		return true
	}
	salt := r.Header.Get(signer.HeaderSalt)
	if r.Header.Get("apikey") != a.key || salt == "" {
		return false
	}
	if !signer.Verify(salt, a.secret, r.Header.Get(signer.HeaderSignature)) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.salts[salt]; seen {
		return false
	}
	a.salts[salt] = struct{}{}
	return true
}

func (a *API) handleLists(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	lists := make([]List, 0, len(a.books))
	for _, b := range a.books {
		lists = append(lists, b.list)
	}
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, lists)
}

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	order := strings.ToUpper(q.Get("sort"))
	if order != "" && order != "ASC" && order != "DESC" {
		writeError(w, http.StatusBadRequest, "invalid sort")
		return
	}
	var unsubscribed *bool
	if raw := q.Get("unsubscribed"); raw != "" {
		v, ok := parsePyBool(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid unsubscribed")
			return
		}
		unsubscribed = &v
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.book(r.PathValue("list"))
	if b == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	records := make([]*record, 0, len(b.records))
	for _, rec := range b.records {
		if unsubscribed != nil {
			v, _ := rec.fields["unsubscribed"].(bool)
			if v != *unsubscribed {
				continue
			}
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if order == "DESC" {
			return records[i].seq > records[j].seq
		}
		return records[i].seq < records[j].seq
	})
	if offset > len(records) {
		offset = len(records)
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.view())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "contact must be a JSON object")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.book(r.PathValue("list"))
	if b == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	rec, err := a.insert(b, fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec.view())
}

func (a *API) handleBulk(w http.ResponseWriter, r *http.Request) {
	var batch []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of contacts")
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.book(r.PathValue("list"))
	if b == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	for _, fields := range batch {
		if email, _ := fields["email"].(string); strings.TrimSpace(email) == "" {
			writeError(w, http.StatusBadRequest, "every contact needs an email")
			return
		}
	}
	var created, updated int
	for _, fields := range batch {
		if rec := b.find(fields["email"].(string)); rec != nil {
			a.merge(rec, fields)
			updated++
			continue
		}
		if _, err := a.insert(b, fields); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		created++
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created, "updated": updated})
}

func (a *API) handleGetContact(w http.ResponseWriter, r *http.Request) {
	a.withContact(w, r, func(_ *book, rec *record) {
		writeJSON(w, http.StatusOK, rec.view())
	})
}

func (a *API) handlePutContact(w http.ResponseWriter, r *http.Request) {
	var subscribe *bool
	if raw := r.URL.Query().Get("subscribe"); raw != "" {
		v, ok := parsePyBool(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid subscribe")
			return
		}
		subscribe = &v
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "contact must be a JSON object")
		return
	}
	a.withContact(w, r, func(_ *book, rec *record) {
		a.merge(rec, fields)
		if subscribe != nil {
			rec.fields["unsubscribed"] = !*subscribe
		}
		writeJSON(w, http.StatusOK, rec.view())
	})
}

func (a *API) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	a.withContact(w, r, func(b *book, rec *record) {
		delete(b.records, rec.id())
		w.WriteHeader(http.StatusNoContent)
	})
}

func (a *API) handleGetTags(w http.ResponseWriter, r *http.Request) {
	a.withContact(w, r, func(_ *book, rec *record) {
		writeJSON(w, http.StatusOK, append([]string{}, rec.tags...))
	})
}

func (a *API) handlePostTags(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if err := json.NewDecoder(r.Body).Decode(&tags); err != nil {
		writeError(w, http.StatusBadRequest, "tags must be a JSON array of strings")
		return
	}
	a.withContact(w, r, func(_ *book, rec *record) {
		for _, tag := range tags {
			if strings.TrimSpace(tag) == "" {
				continue
			}
			rec.addTag(tag)
		}
		rec.fields["updated"] = a.now().Format(time.RFC3339)
		writeJSON(w, http.StatusCreated, append([]string{}, rec.tags...))
	})
}

func (a *API) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	a.withContact(w, r, func(_ *book, rec *record) {
		if !rec.removeTag(tag) {
			writeError(w, http.StatusNotFound, "tag not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// withContact resolves the list and contact path values under the lock and
// answers 404 when either is unknown.
func (a *API) withContact(w http.ResponseWriter, r *http.Request, fn func(b *book, rec *record)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.book(r.PathValue("list"))
	if b == nil {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	rec := b.find(r.PathValue("contact"))
	if rec == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	fn(b, rec)
}

// book resolves a list by id or name. Callers hold a.mu.
func (a *API) book(list string) *book {
	for _, b := range a.books {
		if b.list.ID == list || b.list.List == list {
			return b
		}
	}
	return nil
}

func (b *book) find(emailOrID string) *record {
	if rec, ok := b.records[emailOrID]; ok {
		return rec
	}
	for _, rec := range b.records {
		if strings.EqualFold(rec.email(), emailOrID) {
			return rec
		}
	}
	return nil
}

// insert stores a new contact. Callers hold a.mu.
func (a *API) insert(b *book, fields map[string]any) (*record, error) {
	email, _ := fields["email"].(string)
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("email is required")
	}
	if b.find(email) != nil {
		return nil, fmt.Errorf("contact %s already exists", email)
	}
	a.seq++
	rec := &record{fields: make(map[string]any, len(fields)+4), seq: a.seq}
	for k, v := range fields {
		if k == "tags" {
			continue
		}
		rec.fields[k] = v
	}
	if tags, ok := fields["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok && s != "" {
				rec.addTag(s)
			}
		}
	}
	id := a.newID()
	rec.fields["id"] = id
	rec.fields["list"] = b.list.ID
	if _, ok := rec.fields["unsubscribed"].(bool); !ok {
		rec.fields["unsubscribed"] = false
	}
	stamp := a.now().Format(time.RFC3339)
	rec.fields["created"] = stamp
	rec.fields["updated"] = stamp
	b.records[id] = rec
	return rec, nil
}

// merge copies fields onto rec, keeping its identity. Callers hold a.mu.
func (a *API) merge(rec *record, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "id", "list", "created", "updated":
			continue
		case "tags":
			if tags, ok := v.([]any); ok {
				rec.tags = rec.tags[:0]
				for _, t := range tags {
					if s, ok := t.(string); ok && s != "" {
						rec.addTag(s)
					}
				}
			}
			continue
		}
		rec.fields[k] = v
	}
	rec.fields["updated"] = a.now().Format(time.RFC3339)
}

func (r *record) addTag(tag string) {
	for _, t := range r.tags {
		if t == tag {
			return
		}
	}
	r.tags = append(r.tags, tag)
}

func (r *record) removeTag(tag string) bool {
	for i, t := range r.tags {
		if t == tag {
			r.tags = append(r.tags[:i], r.tags[i+1:]...)
			return true
		}
	}
	return false
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

func parsePyBool(raw string) (bool, bool) {
	switch strings.ToLower(raw) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
