package tools

// Tool names understood by the dispatcher.
const (
	ConnectToSpecialist = "connect_to_specialist"
	ReturnToMaster      = "return_to_master_agent"
	GenerateResume      = "generate_resume"
	UpdateResumeLayout  = "update_resume_layout"
	LogTransaction      = "log_transaction"
	AddTask             = "add_task"
)

// Call is one function call request from the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the acknowledgement sent back for a state-mutation tool.
type Result struct {
	ID      string
	Name    string
	Message string
}

// Payload returns the response object carried in the tool_response envelope.
func (r Result) Payload() map[string]any {
	return map[string]any{"result": r.Message}
}

// Transfer asks the session to hand the conversation to another persona.
type Transfer struct {
	// Target is the persona name as spoken by the model. Empty when ToMaster
	// is set.
	Target string

	// Reason is the model's summary of why the transfer happens.
	Reason string

	// ToMaster is set for a return to the default persona.
	ToMaster bool
}

// Outcome is what the session must do after a call. Exactly one field is
// set: session-control calls yield a Transfer and no response.
type Outcome struct {
	Response *Result
	Transfer *Transfer
}

// ContactInfo holds the resume header fields.
type ContactInfo struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Location string `json:"location,omitempty"`
}

func (c ContactInfo) empty() bool { return c == ContactInfo{} }

// Experience is one resume job entry.
type Experience struct {
	Role     string `json:"role,omitempty"`
	Company  string `json:"company,omitempty"`
	Duration string `json:"duration,omitempty"`
	Points   string `json:"points,omitempty"`
}

// Education is one resume education entry.
type Education struct {
	Degree string `json:"degree,omitempty"`
	School string `json:"school,omitempty"`
	Year   string `json:"year,omitempty"`
}

// Project is one resume project entry.
type Project struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	TechStack   string `json:"techStack,omitempty"`
}

// Layout orders resume sections into two columns.
type Layout struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
}

// ResumeUpdate is a partial resume. Zero-valued fields leave the current
// value untouched.
type ResumeUpdate struct {
	Name       string       `json:"name,omitempty"`
	Contact    *ContactInfo `json:"contactInfo,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	Skills     []string     `json:"skills,omitempty"`
	Experience []Experience `json:"experience,omitempty"`
	Education  []Education  `json:"education,omitempty"`
	Projects   []Project    `json:"projects,omitempty"`
	Layout     *Layout      `json:"layout,omitempty"`
}

// Transaction types.
const (
	Income  = "income"
	Expense = "expense"
)

// Transaction is one ledger entry.
type Transaction struct {
	Amount float64 `json:"amount"`
	Source string  `json:"source"`
	Type   string  `json:"type"`
}

// Task is one day-plan entry.
type Task struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

// ResumeSink receives resume changes.
type ResumeSink interface {
	UpdateResume(ResumeUpdate)
}

// LedgerSink receives logged transactions.
type LedgerSink interface {
	AddTransaction(Transaction)
}

// PlannerSink receives new tasks.
type PlannerSink interface {
	AddTask(Task)
}

// ContextSink receives human-readable event lines for the user context.
type ContextSink interface {
	AppendContext(line string)
}

// Sinks bundles the collaborators that state-mutation tools write to.
type Sinks struct {
	Resume  ResumeSink
	Ledger  LedgerSink
	Planner PlannerSink
	Context ContextSink
}
