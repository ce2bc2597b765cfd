package validation

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

func errorIssue(format string, args ...interface{}) []Issue {
	return []Issue{{Severity: SeverityError, Message: fmt.Sprintf(format, args...)}}
}

func warningIssue(format string, args ...interface{}) []Issue {
	return []Issue{{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}}
}

func validateYAML(path, content string) []Issue {
	var doc interface{}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return errorIssue("invalid YAML: %v", err)
	}
	if strings.TrimSpace(content) == "" {
		return warningIssue("empty YAML document")
	}
	return nil
}

func validateJSON(path, content string) []Issue {
	var doc interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return errorIssue("invalid JSON: %v", err)
	}
	return nil
}

// rootElement scans content and returns the first start element, checking the
// whole document for well-formedness along the way.
func rootElement(content string) (xml.StartElement, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	var root xml.StartElement
	seen := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return root, err
		}
		if start, ok := tok.(xml.StartElement); ok && !seen {
			root = start
			seen = true
		}
	}
	if !seen {
		return root, fmt.Errorf("no root element")
	}
	return root, nil
}

func validateXML(path, content string) []Issue {
	if _, err := rootElement(content); err != nil {
		return errorIssue("invalid XML: %v", err)
	}
	return nil
}

func validateBPMN(path, content string) []Issue {
	root, err := rootElement(content)
	if err != nil {
		return errorIssue("invalid BPMN XML: %v", err)
	}

	var issues []Issue
	if root.Name.Local != "definitions" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("BPMN root element must be definitions, got %s", root.Name.Local),
		})
	}
	if !strings.Contains(strings.ToLower(root.Name.Space), "bpmn") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "root element is not in a BPMN namespace",
		})
	}
	if !strings.Contains(content, "<process") && !strings.Contains(content, ":process") {
		issues = append(issues, Issue{
			Severity: SeverityInfo,
			Message:  "diagram defines no process element",
		})
	}
	return issues
}

func validateDMN(path, content string) []Issue {
	root, err := rootElement(content)
	if err != nil {
		return errorIssue("invalid DMN XML: %v", err)
	}

	var issues []Issue
	if root.Name.Local != "definitions" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("DMN root element must be definitions, got %s", root.Name.Local),
		})
	}
	if !strings.Contains(strings.ToLower(root.Name.Space), "dmn") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "root element is not in a DMN namespace",
		})
	}
	return issues
}

// fshKeywords are the entity declarations a FSH document may open with.
var fshKeywords = []string{
	"Profile:", "Extension:", "Instance:", "ValueSet:", "CodeSystem:",
	"Logical:", "Resource:", "Invariant:", "Mapping:", "RuleSet:", "Alias:",
}

func validateFSH(path, content string) []Issue {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errorIssue("empty FSH document")
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		for _, kw := range fshKeywords {
			if strings.HasPrefix(line, kw) {
				return nil
			}
		}
		return warningIssue("first declaration %q is not a recognized FSH entity", firstWord(line))
	}

	return warningIssue("FSH document contains only comments")
}

func validateCQL(path, content string) []Issue {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errorIssue("empty CQL document")
	}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") {
			continue
		}
		if strings.HasPrefix(line, "library ") || line == "library" {
			return nil
		}
		return warningIssue("CQL document does not start with a library declaration")
	}
	return warningIssue("CQL document contains only comments")
}

func firstWord(line string) string {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		return line[:i]
	}
	return line
}
