package tools

import (
	"fmt"
	"slices"

	"google.golang.org/genai"
)

// declarations builds the model-facing schema of every tool.
var declarations = map[string]func() *genai.FunctionDeclaration{
	ConnectToSpecialist: func() *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:        ConnectToSpecialist,
			Description: "Transfer the user to a specialist agent when their request matches a specific domain.",
			Parameters: object([]string{"agent_name", "transfer_reason"}, map[string]*genai.Schema{
				"agent_name":      described(genai.TypeString, "The name of the specialist agent (ResumeAgent, IncomeAgent, DayPlannerAgent)."),
				"transfer_reason": described(genai.TypeString, "A concise summary of why the user is being transferred and what they need."),
			}),
		}
	},
	ReturnToMaster: func() *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:        ReturnToMaster,
			Description: "Return the user to the Master Agent (Bade Bhaiya) when they want to switch topics or need general help.",
			Parameters: object([]string{"reason"}, map[string]*genai.Schema{
				"reason": described(genai.TypeString, "Reason for returning to the master agent."),
			}),
		}
	},
	GenerateResume: func() *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:        GenerateResume,
			Description: "Generate or update a professional resume/CV.",
			Parameters: object([]string{"name"}, map[string]*genai.Schema{
				"name":     {Type: genai.TypeString},
				"email":    described(genai.TypeString, "User's email address"),
				"phone":    described(genai.TypeString, "User's phone number"),
				"linkedin": described(genai.TypeString, "User's LinkedIn URL"),
				"location": described(genai.TypeString, "City/Country"),
				"summary":  described(genai.TypeString, "A strong professional summary statement."),
				"skills":   described(genai.TypeString, "Comma separated list of skills."),
				"education": arrayOf(object(nil, map[string]*genai.Schema{
					"degree": {Type: genai.TypeString},
					"school": {Type: genai.TypeString},
					"year":   {Type: genai.TypeString},
				})),
				"experience": arrayOf(object(nil, map[string]*genai.Schema{
					"role":     {Type: genai.TypeString},
					"company":  {Type: genai.TypeString},
					"duration": {Type: genai.TypeString},
					"points":   described(genai.TypeString, "Bullet points separated by newline."),
				})),
				"projects": arrayOf(object(nil, map[string]*genai.Schema{
					"title":       {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"techStack":   {Type: genai.TypeString},
				})),
			}),
		}
	},
	UpdateResumeLayout: func() *genai.FunctionDeclaration {
		const valid = "Valid values: 'summary', 'experience', 'education', 'projects', 'skills', 'contactInfo'"
		column := func(example string) *genai.Schema {
			s := arrayOf(&genai.Schema{Type: genai.TypeString})
			s.Description = "List of sections for the " + example + ". " + valid
			return s
		}
		return &genai.FunctionDeclaration{
			Name:        UpdateResumeLayout,
			Description: "Reorder the sections of the resume layout.",
			Parameters: object([]string{"left_column", "right_column"}, map[string]*genai.Schema{
				"left_column":  column("left column (e.g. ['experience', 'skills'])"),
				"right_column": column("right column (e.g. ['education', 'projects'])"),
			}),
		}
	},
	LogTransaction: func() *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:        LogTransaction,
			Description: "Log a financial transaction (Income, Expense, or Investment/SIP).",
			Parameters: object([]string{"amount", "source", "type"}, map[string]*genai.Schema{
				"amount": {Type: genai.TypeNumber},
				"source": {Type: genai.TypeString},
				"type": {
					Type:        genai.TypeString,
					Enum:        []string{Income, Expense},
					Description: "Type of transaction (use 'expense' for SIP/Investments).",
				},
			}),
		}
	},
	AddTask: func() *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:        AddTask,
			Description: "Add a task to the day plan.",
			Parameters: object([]string{"task", "time"}, map[string]*genai.Schema{
				"task": {Type: genai.TypeString},
				"time": {Type: genai.TypeString},
			}),
		}
	},
}

func object(required []string, props map[string]*genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func arrayOf(items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: items}
}

func described(t genai.Type, desc string) *genai.Schema {
	return &genai.Schema{Type: t, Description: desc}
}

// Names returns every tool name in sorted order.
func Names() []string {
	names := make([]string, 0, len(declarations))
	for n := range declarations {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Known reports whether name is a tool this package can declare and execute.
func Known(name string) bool {
	_, ok := declarations[name]
	return ok
}

// Declarations returns fresh schemas for names, in the given order.
func Declarations(names ...string) ([]*genai.FunctionDeclaration, error) {
	out := make([]*genai.FunctionDeclaration, 0, len(names))
	for _, n := range names {
		build, ok := declarations[n]
		if !ok {
			return nil, fmt.Errorf("tools: unknown tool %q", n)
		}
		out = append(out, build())
	}
	return out, nil
}
