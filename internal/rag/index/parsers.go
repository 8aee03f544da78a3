package index

import (
	"sync"

	"github.com/David2024patton/itak/internal/rag/parser/markdown"
	"github.com/David2024patton/itak/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
