package openai

import (
	"fmt"
	"strconv"

	"inventory-agent/internal/domain"
)

const projectionSystemPrompt = `You write SQLite queries for an inventory database with two tables:
  products(id INTEGER PRIMARY KEY, name TEXT UNIQUE, quantity INTEGER)
  movements(id INTEGER PRIMARY KEY, product_id INTEGER, change INTEGER, date TEXT)
movements.date holds UTC timestamps formatted as YYYY-MM-DDTHH:MM:SSZ.

Reply with exactly one SELECT statement ending in ';' and nothing else: no prose, no comments, no code fences.
The statement returns one row with two columns, in this order:
  current_stock: the product's quantity
  net_movement: SUM(change) of the product's movements in the window, 0 when there are none
Use a LEFT JOIN or a CTE so that net_movement is 0 rather than NULL.`

func projectionMessages(product string, days int) []domain.ChatMessage {
	user := fmt.Sprintf(
		"Product name: %s\nWindow: movements whose date(date) >= date('now', '-%d days').",
		strconv.Quote(product), days,
	)
	return []domain.ChatMessage{
		{Role: "system", Content: projectionSystemPrompt},
		{Role: "user", Content: user},
	}
}
