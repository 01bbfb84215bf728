package inquiry

import (
	"fmt"
	"math"
	"strings"
	"time"

	"inventory-agent/internal/domain"
)

const (
	HistoryHeader  = "Historial de movimientos"
	NoDepletionMsg = "Sin agotamiento proyectado: el movimiento neto no es negativo."
)

// FormatInput is everything the reply text depends on.
type FormatInput struct {
	Product       string
	Result        domain.Result
	RequestedDays int
	EffectiveDays int
	Advisory      string
}

// Format renders the reply body for a store result. The branch is chosen by
// the result's Kind tag, never by the shape of its rows.
func Format(in FormatInput) (string, error) {
	var body string
	switch in.Result.Kind {
	case domain.KindBalance:
		body = formatBalance(in)
	case domain.KindHistory:
		body = formatHistory(in)
	case domain.KindProjection:
		body = formatProjection(in)
	default:
		return "", fmt.Errorf("inquiry: format: unsupported kind %d", in.Result.Kind)
	}
	return withAdvisory(in.Advisory, body), nil
}

// NoRecordsBody is the reply for a product that never had a movement.
func NoRecordsBody(product string) string {
	return fmt.Sprintf("No hay movimientos registrados para el producto %s.", product)
}

func formatBalance(in FormatInput) string {
	if in.Result.Balance == nil {
		return fmt.Sprintf("No se encontraron datos para el producto %s.", in.Product)
	}
	return fmt.Sprintf("Saldo actual de %s: %s.", in.Product, units(in.Result.Balance.Quantity))
}

// formatHistory caps the list at RequestedDays entries, not EffectiveDays:
// the query range may be clamped but the display cap follows the request.
func formatHistory(in FormatInput) string {
	rows := in.Result.History
	if len(rows) == 0 {
		return fmt.Sprintf("No hubo movimientos de %s en los últimos %s.", in.Product, dayCount(in.EffectiveDays))
	}
	if in.RequestedDays >= 0 && len(rows) > in.RequestedDays {
		rows = rows[:in.RequestedDays]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s de %s (últimos %s):", HistoryHeader, in.Product, dayCount(in.EffectiveDays))
	for _, row := range rows {
		fmt.Fprintf(&b, "\n- %s → %+d", row.Date.UTC().Format(time.DateOnly), row.Change)
	}
	return b.String()
}

func formatProjection(in FormatInput) string {
	if in.Result.Projection == nil {
		return fmt.Sprintf("No se encontraron datos para el producto %s.", in.Product)
	}
	p := in.Result.Projection
	lines := []string{
		fmt.Sprintf("Stock actual de %s: %s.", in.Product, units(p.CurrentStock)),
		fmt.Sprintf("Movimiento neto en los últimos %s: %+d.", dayCount(in.EffectiveDays), p.NetMovement),
	}
	if days, ok := DaysUntilStockout(p.CurrentStock, p.NetMovement, in.EffectiveDays); ok {
		lines = append(lines, fmt.Sprintf("Días estimados hasta agotar el stock: %.1f.", days))
	} else {
		lines = append(lines, NoDepletionMsg)
	}
	return strings.Join(lines, "\n")
}

// DaysUntilStockout is current / |net / days| rounded to one decimal. It is
// defined only for a negative net movement and never returns a negative value.
func DaysUntilStockout(current, net, days int) (float64, bool) {
	if net >= 0 || days < 1 {
		return 0, false
	}
	dailyRate := math.Abs(float64(net) / float64(days))
	est := math.Round(float64(current)/dailyRate*10) / 10
	if est < 0 {
		est = 0
	}
	return est, true
}

func withAdvisory(advisory, body string) string {
	if strings.TrimSpace(advisory) == "" {
		return body
	}
	return advisory + "\n\n" + body
}

func units(n int) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d unidad", n)
	}
	return fmt.Sprintf("%d unidades", n)
}

func dayCount(n int) string {
	if n == 1 {
		return "1 día"
	}
	return fmt.Sprintf("%d días", n)
}
