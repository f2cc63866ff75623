package banesco

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/danicanod/banker/src/config"
)

func TestParseVenezuelanAmount(t *testing.T) {
	tests := []struct {
		cell    string
		want    float64
		wantErr bool
	}{
		{"1.234,56", 1234.56, false},
		{"100,50", 100.50, false},
		{"42", 42, false},
		{"  7,00  ", 7, false},
		{"1.000.000,01", 1000000.01, false},
		{"", 0, true},
		{"n/a", 0, true},
	}
	for _, tc := range tests {
		got, err := parseVenezuelanAmount(tc.cell)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseVenezuelanAmount(%q) = %v, want error", tc.cell, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVenezuelanAmount(%q) failed: %v", tc.cell, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseVenezuelanAmount(%q) = %v, want %v", tc.cell, got, tc.want)
		}
	}
}

func TestAnswerFor(t *testing.T) {
	s := New(config.BankCredentials{
		SecurityAnswers: map[string]string{
			"mascota": "firulais",
			"ciudad":  "caracas",
		},
	})

	if got := s.answerFor("¿Cuál es el nombre de su primera MASCOTA?"); got != "firulais" {
		t.Errorf("answerFor(mascota) = %q", got)
	}
	if got := s.answerFor("¿En qué ciudad nació usted?"); got != "caracas" {
		t.Errorf("answerFor(ciudad) = %q", got)
	}
	if got := s.answerFor("¿Cuál es su color favorito?"); got != "" {
		t.Errorf("answerFor(unknown) = %q, want empty", got)
	}
}

const movementsPage = `
<html><body>
<table id="tblMovimientos">
	<tr><th>Fecha</th><th>Referencia</th><th>Descripción</th><th>Débito</th><th>Crédito</th><th>Saldo</th></tr>
	<tr><td>2025-01-15</td><td>REF123456</td><td>Pago servicio</td><td>100,50</td><td></td><td>1.234,56</td></tr>
	<tr><td>2025-01-16</td><td></td><td>Transferencia recibida</td><td></td><td>250,00</td><td>1.484,56</td></tr>
</table>
</body></html>`

func TestFindTableRows(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(movementsPage))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}

	rows := findTableRows(doc, "tblMovimientos")
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (header has no td cells)", len(rows))
	}
	if rows[0][1] != "REF123456" || rows[0][3] != "100,50" {
		t.Errorf("first row = %v", rows[0])
	}
	if rows[1][2] != "Transferencia recibida" || rows[1][4] != "250,00" {
		t.Errorf("second row = %v", rows[1])
	}

	if got := findTableRows(doc, "tblInexistente"); got != nil {
		t.Errorf("missing table returned %v, want nil", got)
	}
}

func TestFindText(t *testing.T) {
	page := `<html><body><span id="lblPregunta">¿Cuál es el nombre de su mascota?</span></body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	if got := findText(doc, "span", "lblPregunta"); got != "¿Cuál es el nombre de su mascota?" {
		t.Errorf("findText = %q", got)
	}
	if got := findText(doc, "span", "lblOtra"); got != "" {
		t.Errorf("findText(missing) = %q, want empty", got)
	}
}
