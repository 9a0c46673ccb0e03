package tools

import (
	"regexp"
	"strconv"
	"strings"
)

// Argument shapes from the model are never trusted. These helpers coerce
// loosely typed JSON values and return zero values for anything unusable.

var nonNumeric = regexp.MustCompile(`[^0-9.]`)

// leadingNumber is the longest decimal prefix, so "1.2.3" reads as 1.2.
var leadingNumber = regexp.MustCompile(`^[0-9]*\.?[0-9]*`)

// str renders scalar values as trimmed text. Objects and arrays yield "".
func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// strOr is str with a fallback for empty values.
func strOr(v any, fallback string) string {
	if s := str(v); s != "" {
		return s
	}
	return fallback
}

// amount accepts a number or a string such as "₹1,500" or "Rs 500".
func amount(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		digits := leadingNumber.FindString(nonNumeric.ReplaceAllString(x, ""))
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// stringList accepts a comma separated string or an array of scalars. Empty
// entries are dropped.
func stringList(v any) []string {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = strings.Split(x, ",")
	case []any:
		for _, e := range x {
			raw = append(raw, str(e))
		}
	default:
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// objects returns the object elements of an array, skipping anything else.
func objects(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func experienceList(v any) []Experience {
	var out []Experience
	for _, m := range objects(v) {
		e := Experience{
			Role:     str(m["role"]),
			Company:  str(m["company"]),
			Duration: str(m["duration"]),
			Points:   str(m["points"]),
		}
		if e != (Experience{}) {
			out = append(out, e)
		}
	}
	return out
}

func educationList(v any) []Education {
	var out []Education
	for _, m := range objects(v) {
		e := Education{
			Degree: str(m["degree"]),
			School: str(m["school"]),
			Year:   str(m["year"]),
		}
		if e != (Education{}) {
			out = append(out, e)
		}
	}
	return out
}

func projectList(v any) []Project {
	var out []Project
	for _, m := range objects(v) {
		p := Project{
			Title:       str(m["title"]),
			Description: str(m["description"]),
			TechStack:   str(m["techStack"]),
		}
		if p != (Project{}) {
			out = append(out, p)
		}
	}
	return out
}

func contactFrom(m map[string]any) ContactInfo {
	return ContactInfo{
		Email:    str(m["email"]),
		Phone:    str(m["phone"]),
		LinkedIn: str(m["linkedin"]),
		Location: str(m["location"]),
	}
}

// resumeArgs parses generate_resume. Flat contact fields win over a nested
// contactInfo object. ok is false when nothing usable was supplied.
func resumeArgs(args map[string]any) (u ResumeUpdate, ok bool) {
	u.Name = str(args["name"])
	u.Summary = str(args["summary"])

	contact := contactFrom(args)
	if contact.empty() {
		if nested, isObj := args["contactInfo"].(map[string]any); isObj {
			contact = contactFrom(nested)
		}
	}
	if !contact.empty() {
		u.Contact = &contact
	}

	u.Skills = stringList(args["skills"])
	u.Experience = experienceList(args["experience"])
	u.Education = educationList(args["education"])
	u.Projects = projectList(args["projects"])

	ok = u.Name != "" || u.Summary != "" || u.Contact != nil ||
		len(u.Skills) > 0 || len(u.Experience) > 0 || len(u.Education) > 0 || len(u.Projects) > 0
	return u, ok
}

// resumeSections are the section keys a layout may reference.
var resumeSections = []string{"summary", "experience", "education", "projects", "skills", "contactInfo"}

// sections keeps entries naming a known section, normalised to its
// canonical spelling.
func sections(v any) []string {
	out := []string{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, e := range arr {
		s := str(e)
		for _, known := range resumeSections {
			if strings.EqualFold(s, known) {
				out = append(out, known)
				break
			}
		}
	}
	return out
}

func layoutArgs(args map[string]any) (Layout, bool) {
	l := Layout{Left: sections(args["left_column"]), Right: sections(args["right_column"])}
	return l, len(l.Left) > 0 || len(l.Right) > 0
}

func transactionArgs(args map[string]any) (Transaction, bool) {
	amt, ok := amount(args["amount"])
	if !ok || amt <= 0 {
		return Transaction{}, false
	}
	typ := Expense
	if strings.Contains(strings.ToLower(str(args["type"])), Income) {
		typ = Income
	}
	return Transaction{Amount: amt, Source: strOr(args["source"], "Unknown"), Type: typ}, true
}

func taskArgs(args map[string]any) Task {
	return Task{Title: strOr(args["task"], "Untitled Task"), Time: strOr(args["time"], "Today")}
}

func transferArgs(name string, args map[string]any) *Transfer {
	if name == ReturnToMaster {
		return &Transfer{Reason: str(args["reason"]), ToMaster: true}
	}
	return &Transfer{Target: str(args["agent_name"]), Reason: str(args["transfer_reason"])}
}
