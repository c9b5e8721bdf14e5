package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Context — данные для рендеринга инструкции узла.
//
// Доступ из шаблона:
//   - {{ .Query }}
//   - {{ .Context.key }}
//   - {{ .Steps.node_id.Text }}
//   - {{ .Steps.node_id.Payload.field }}
type Context struct {
	// Query — исходный запрос run.
	Query string `json:"query"`

	// Context — контекст вызывающей стороны.
	Context map[string]any `json:"context"`

	// Steps — итоги завершённых узлов.
	Steps map[string]*StepContext `json:"steps"`
}

// StepContext — итог узла, видимый в шаблоне.
type StepContext struct {
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
	Status  string         `json:"status"`
	Agent   string         `json:"agent"`
}

// NewContext создаёт контекст рендеринга для run.
func NewContext(query string, runCtx map[string]any) *Context {
	if runCtx == nil {
		runCtx = make(map[string]any)
	}
	return &Context{
		Query:   query,
		Context: runCtx,
		Steps:   make(map[string]*StepContext),
	}
}

// AddOutcome добавляет итог узла в контекст.
func (c *Context) AddOutcome(outcome domain.TaskOutcome) {
	payload := outcome.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	c.Steps[outcome.TaskID] = &StepContext{
		Text:    outcome.Text,
		Payload: payload,
		Status:  string(outcome.Status),
		Agent:   outcome.Agent,
	}
}

var templateFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	"default": func(def, val any) any {
		if isEmpty(val) {
			return def
		}
		return val
	},

	"coalesce": func(values ...any) any {
		for _, v := range values {
			if !isEmpty(v) {
				return v
			}
		}
		return nil
	},

	// join принимает []string и []any (массивы из JSON payload)
	"join": func(sep string, items any) string {
		switch v := items.(type) {
		case []string:
			return strings.Join(v, sep)
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, sep)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	},

	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"contains": strings.Contains,
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// RenderInstruction рендерит инструкцию узла.
// Инструкция без {{ возвращается без изменений.
func RenderInstruction(instr string, ctx *Context) (string, error) {
	if !strings.Contains(instr, "{{") {
		return instr, nil
	}

	t, err := template.New("instruction").Funcs(templateFuncs).Parse(instr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	// Обращение к отсутствующему узлу text/template молча печатает
	// "<no value>", поэтому ссылки на .Steps проверяются до выполнения.
	var missing []string
	walkStepRefs(t.Tree.Root, func(id string) {
		if _, ok := ctx.Steps[id]; !ok {
			missing = append(missing, id)
		}
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unknown step %q", ErrTemplateRender, missing[0])
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// walkStepRefs вызывает fn для каждого id в выражениях вида .Steps.<id>.
func walkStepRefs(node parse.Node, fn func(id string)) {
	switch n := node.(type) {
	case nil:
		return
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkStepRefs(c, fn)
		}
	case *parse.ActionNode:
		walkStepRefs(n.Pipe, fn)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			walkStepRefs(cmd, fn)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walkStepRefs(arg, fn)
		}
	case *parse.ChainNode:
		walkStepRefs(n.Node, fn)
	case *parse.FieldNode:
		if len(n.Ident) >= 2 && n.Ident[0] == "Steps" {
			fn(n.Ident[1])
		}
	case *parse.VariableNode:
		// $.Steps.<id> внутри range/with
		if len(n.Ident) >= 3 && n.Ident[0] == "$" && n.Ident[1] == "Steps" {
			fn(n.Ident[2])
		}
	case *parse.IfNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.TemplateNode:
		walkStepRefs(n.Pipe, fn)
	}
}

func walkBranch(b *parse.BranchNode, fn func(id string)) {
	walkStepRefs(b.Pipe, fn)
	walkStepRefs(b.List, fn)
	walkStepRefs(b.ElseList, fn)
}
