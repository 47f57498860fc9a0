// Пакет selector — фильтр сообщений по выражению над свойствами (синтаксис expr-lang/expr).
//
// Помимо пользовательских свойств в выражении доступны JMSType, JMSMessageID и JMSDestination.
// Пример: `JMSType == "OrderCreated" && priority >= 5`.
package selector

import (
	"fmt"
	"strings"

	"github.com/Gunvolt24/mq_reader/internal/domain"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Selector — скомпилированное выражение. nil-селектор пропускает любое сообщение.
type Selector struct {
	source  string
	program *vm.Program
}

// Compile — компилирует выражение; пустая строка означает «без фильтра» (nil, nil).
func Compile(expression string) (*Selector, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, nil
	}

	program, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", src, err)
	}
	return &Selector{source: src, program: program}, nil
}

// Match — подходит ли сообщение под выражение.
// Ошибка вычисления (например, сравнение nil с числом) означает «не подходит».
func (s *Selector) Match(msg *domain.Message) (bool, error) {
	if s == nil {
		return true, nil
	}
	if msg == nil {
		return false, nil
	}

	out, err := expr.Run(s.program, env(msg))
	if err != nil {
		return false, fmt.Errorf("evaluate selector %q: %w", s.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// String — исходное выражение.
func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return s.source
}

func env(msg *domain.Message) map[string]any {
	vars := make(map[string]any, len(msg.Properties)+3)
	for k, v := range msg.Properties {
		vars[k] = v
	}
	vars["JMSType"] = msg.Type
	vars["JMSMessageID"] = msg.ID
	vars["JMSDestination"] = msg.Destination
	return vars
}
