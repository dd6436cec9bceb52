// Package validators implements the value validator contract (§6): a
// shape-hint classifier over field descriptions and a normaliser/rejecter
// per Brazilian value shape (CPF, CNPJ, CEP, phone, currency, date,
// integer, free text).
//
// No third-party library in the retrieval pack targets this narrow,
// country-specific validation domain (see DESIGN.md); it is implemented
// against the standard library's regexp package.
package validators

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/adverant/pdfextract/internal/textutil"
)

// ShapeHint names the value classification the validator applies.
type ShapeHint string

const (
	ShapeCPF      ShapeHint = "cpf"
	ShapeCNPJ     ShapeHint = "cnpj"
	ShapeCEP      ShapeHint = "cep"
	ShapePhone    ShapeHint = "phone"
	ShapeCurrency ShapeHint = "currency"
	ShapeDate     ShapeHint = "date"
	ShapeInteger  ShapeHint = "integer"
	ShapeText     ShapeHint = "text"
)

// keywordHints maps a description keyword to the shape it implies. Checked
// in slice order so more specific keywords (cnpj) are tested before more
// general ones (cpf/cnpj share a "j"-free prefix, so order matters).
var keywordHints = []struct {
	keyword string
	shape   ShapeHint
}{
	{"cnpj", ShapeCNPJ},
	{"cpf", ShapeCPF},
	{"cep", ShapeCEP},
	{"telefone", ShapePhone},
	{"celular", ShapePhone},
	{"phone", ShapePhone},
	{"valor", ShapeCurrency},
	{"preço", ShapeCurrency},
	{"preco", ShapeCurrency},
	{"total", ShapeCurrency},
	{"data", ShapeDate},
	{"date", ShapeDate},
	{"quantidade", ShapeInteger},
	{"número", ShapeInteger},
	{"numero", ShapeInteger},
	{"inscrição", ShapeInteger},
	{"inscricao", ShapeInteger},
}

// InferShapeHint derives a shape from a field description via the fixed
// keyword dictionary, defaulting to free text.
func InferShapeHint(description string) ShapeHint {
	norm := textutil.Normalize(description)
	for _, kh := range keywordHints {
		if strings.Contains(norm, kh.keyword) {
			return kh.shape
		}
	}
	return ShapeText
}

var (
	cpfDigits      = regexp.MustCompile(`^\d{11}$`)
	cnpjDigits     = regexp.MustCompile(`^\d{14}$`)
	cepDigits      = regexp.MustCompile(`^\d{8}$`)
	phoneDigits    = regexp.MustCompile(`^\d{10,11}$`)
	currencyRegex  = regexp.MustCompile(`^R?\$?\s?(\d{1,3}(\.\d{3})*|\d+)(,\d{2})?$`)
	dateRegex      = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

// Validate normalises value for shape, or returns ("", false) when the
// value is rejected — the caller treats a rejected field as missing.
func Validate(value string, shape ShapeHint) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	switch shape {
	case ShapeCPF:
		d := textutil.DigitsOnly(value)
		if !cpfDigits.MatchString(d) {
			return "", false
		}
		return d[0:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:11], true

	case ShapeCNPJ:
		d := textutil.DigitsOnly(value)
		if !cnpjDigits.MatchString(d) {
			return "", false
		}
		return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14], true

	case ShapeCEP:
		d := textutil.DigitsOnly(value)
		if !cepDigits.MatchString(d) {
			return "", false
		}
		return d[0:5] + "-" + d[5:8], true

	case ShapePhone:
		d := textutil.DigitsOnly(value)
		if !phoneDigits.MatchString(d) {
			return "", false
		}
		if len(d) == 11 {
			return "(" + d[0:2] + ") " + d[2:7] + "-" + d[7:11], true
		}
		return "(" + d[0:2] + ") " + d[2:6] + "-" + d[6:10], true

	case ShapeCurrency:
		if !currencyRegex.MatchString(value) {
			return "", false
		}
		return value, true

	case ShapeDate:
		if !dateRegex.MatchString(value) {
			return "", false
		}
		return value, true

	case ShapeInteger:
		d := textutil.DigitsOnly(value)
		if d == "" {
			return "", false
		}
		if _, err := strconv.Atoi(d); err != nil {
			return "", false
		}
		return d, true

	default: // ShapeText
		return value, true
	}
}
