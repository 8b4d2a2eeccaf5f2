package assistant

import "strings"

// BaseSystemPrompt is the built-in system prompt for chat generations. User
// instructions from configuration are appended to it, never replace it.
const BaseSystemPrompt = `ВСЕГДА отвечай на русском языке.
Используй Markdown для форматирования.
Структурируй ответ заголовками.
Оформи вывод кода с использованием Markdown Code Blocks.
Обязательно указывай тег языка программирования (syntax highlighting tag) для каждого блока кода.
Не пиши комментарии и текст в блоках и между блоками кодов.
Не используй LaTeX. Пиши формулы обычным текстом.
Используй жирный шрифт для выделения.
Краткое объяснение, затем решение.`

// BuildSystemPrompt combines the base prompt with optional user instructions.
func BuildSystemPrompt(custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return BaseSystemPrompt
	}
	return BaseSystemPrompt + "\n\n--- Дополнительные инструкции от пользователя ---\n" + custom
}
