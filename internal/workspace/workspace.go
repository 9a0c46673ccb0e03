// Package workspace is the in-memory state the personas act on: the resume,
// the transaction ledger, the day plan, and the running context summary that
// is handed to the model at the start of every session.
//
// [Workspace] implements every sink of [tools.Sinks] and is safe for
// concurrent use. State lives for the lifetime of the process only.
package workspace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parivox/internal/tools"
)

// maxSummary is the number of trailing characters of the context summary
// that are kept.
const maxSummary = 5000

const defaultSummary = "New user session."

// Compile-time interface assertions.
var (
	_ tools.ResumeSink  = (*Workspace)(nil)
	_ tools.LedgerSink  = (*Workspace)(nil)
	_ tools.PlannerSink = (*Workspace)(nil)
	_ tools.ContextSink = (*Workspace)(nil)
)

// Profile is what the user told us about themselves.
type Profile struct {
	Name    string
	Age     string
	Gender  string
	Summary string
}

// Resume is the accumulated resume.
type Resume struct {
	Name       string             `json:"name"`
	Contact    *tools.ContactInfo `json:"contactInfo,omitempty"`
	Summary    string             `json:"summary,omitempty"`
	Skills     []string           `json:"skills"`
	Experience []tools.Experience `json:"experience"`
	Education  []tools.Education  `json:"education"`
	Projects   []tools.Project    `json:"projects"`
	Layout     *tools.Layout      `json:"layout,omitempty"`
}

// Transaction is a ledger entry.
type Transaction struct {
	ID string `json:"id"`
	tools.Transaction
	Date time.Time `json:"date"`
}

// Task is a day-plan entry.
type Task struct {
	ID string `json:"id"`
	tools.Task
	Completed bool `json:"completed"`
}

// Snapshot is a read-only copy of the workspace.
type Snapshot struct {
	UserName     string        `json:"userName,omitempty"`
	Age          string        `json:"age,omitempty"`
	Gender       string        `json:"gender,omitempty"`
	Summary      string        `json:"summary"`
	Resume       Resume        `json:"resume"`
	Transactions []Transaction `json:"transactions"`
	Tasks        []Task        `json:"tasks"`
	TotalIncome  float64       `json:"totalIncome"`
	TotalExpense float64       `json:"totalExpense"`
}

// Workspace holds the state of one user.
type Workspace struct {
	now func() time.Time

	mu      sync.RWMutex
	profile Profile
	summary string
	resume  Resume
	ledger  []Transaction // newest first
	tasks   []Task
}

// New returns a workspace seeded from profile. Without an explicit summary
// one is derived from the profile.
func New(profile Profile) *Workspace {
	summary := profile.Summary
	switch {
	case summary != "":
	case profile.Name != "":
		summary = fmt.Sprintf("User is %s, %s years old, %s.", profile.Name, profile.Age, profile.Gender)
	default:
		summary = defaultSummary
	}
	return &Workspace{
		now:     time.Now,
		profile: profile,
		summary: summary,
		resume: Resume{
			Name:       profile.Name,
			Skills:     []string{},
			Experience: []tools.Experience{},
			Education:  []tools.Education{},
			Projects:   []tools.Project{},
		},
	}
}

// UpdateResume merges u into the resume. Zero-valued fields are ignored.
func (w *Workspace) UpdateResume(u tools.ResumeUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &w.resume
	if u.Name != "" {
		r.Name = u.Name
	}
	if u.Contact != nil {
		c := *u.Contact
		r.Contact = &c
	}
	if u.Summary != "" {
		r.Summary = u.Summary
	}
	if len(u.Skills) > 0 {
		r.Skills = append([]string(nil), u.Skills...)
	}
	if len(u.Experience) > 0 {
		r.Experience = append([]tools.Experience(nil), u.Experience...)
	}
	if len(u.Education) > 0 {
		r.Education = append([]tools.Education(nil), u.Education...)
	}
	if len(u.Projects) > 0 {
		r.Projects = append([]tools.Project(nil), u.Projects...)
	}
	if u.Layout != nil {
		l := tools.Layout{
			Left:  append([]string{}, u.Layout.Left...),
			Right: append([]string{}, u.Layout.Right...),
		}
		r.Layout = &l
	}
}

// AddTransaction records tx at the head of the ledger.
func (w *Workspace) AddTransaction(tx tools.Transaction) {
	entry := Transaction{ID: uuid.NewString(), Transaction: tx, Date: w.now()}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ledger = append([]Transaction{entry}, w.ledger...)
}

// AddTask appends t to the day plan.
func (w *Workspace) AddTask(t tools.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, Task{ID: uuid.NewString(), Task: t})
}

// ToggleTask flips the completion flag of the task with id.
func (w *Workspace) ToggleTask(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.tasks {
		if w.tasks[i].ID == id {
			w.tasks[i].Completed = !w.tasks[i].Completed
			return true
		}
	}
	return false
}

// AppendContext adds line to the summary unless the summary already ends
// with it. Only the last 5000 characters are kept.
func (w *Workspace) AppendContext(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.HasSuffix(w.summary, line) {
		return
	}
	s := w.summary + "\n" + line
	if r := []rune(s); len(r) > maxSummary {
		s = string(r[len(r)-maxSummary:])
	}
	w.summary = s
}

// RecordTransfer logs a hand-off to the persona with key.
func (w *Workspace) RecordTransfer(key, reason string) {
	w.AppendContext(fmt.Sprintf("[System] Transferred to %s: %s", key, reason))
}

// RecordReturn logs a return to the default persona named name.
func (w *Workspace) RecordReturn(name, reason string) {
	w.AppendContext(fmt.Sprintf("[System] Returned to %s: %s.", name, reason))
}

// Summary returns the current context summary.
func (w *Workspace) Summary() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.summary
}

// UserContext renders the profile and summary as the JSON object sent to the
// model at session start.
func (w *Workspace) UserContext() (string, error) {
	w.mu.RLock()
	v := struct {
		UserName string `json:"userName,omitempty"`
		Age      string `json:"age,omitempty"`
		Gender   string `json:"gender,omitempty"`
		Summary  string `json:"summary"`
	}{w.profile.Name, w.profile.Age, w.profile.Gender, w.summary}
	w.mu.RUnlock()

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("workspace: marshal user context: %w", err)
	}
	return string(data), nil
}

// Snapshot returns a deep copy of the workspace.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Snapshot{
		UserName:     w.profile.Name,
		Age:          w.profile.Age,
		Gender:       w.profile.Gender,
		Summary:      w.summary,
		Resume:       w.resume,
		Transactions: append([]Transaction{}, w.ledger...),
		Tasks:        append([]Task{}, w.tasks...),
	}
	s.Resume.Skills = append([]string{}, w.resume.Skills...)
	s.Resume.Experience = append([]tools.Experience{}, w.resume.Experience...)
	s.Resume.Education = append([]tools.Education{}, w.resume.Education...)
	s.Resume.Projects = append([]tools.Project{}, w.resume.Projects...)
	for _, tx := range w.ledger {
		if tx.Type == tools.Income {
			s.TotalIncome += tx.Amount
		} else {
			s.TotalExpense += tx.Amount
		}
	}
	return s
}

// ServeToggleTask flips the task named by the {id} path value and replies
// with the updated snapshot.
func (w *Workspace) ServeToggleTask(rw http.ResponseWriter, r *http.Request) {
	if !w.ToggleTask(r.PathValue("id")) {
		http.Error(rw, "task not found", http.StatusNotFound)
		return
	}
	w.ServeHTTP(rw, r)
}

// ServeHTTP writes the snapshot as JSON.
func (w *Workspace) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(rw)
	enc.SetIndent("", "  ")
	_ = enc.Encode(w.Snapshot())
}
