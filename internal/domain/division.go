package domain

import (
	"slices"
	"strconv"
)

const (
	DivisionPatient = "1"
	// DivisionOTC is ordinary over-the-counter merchandise; only these lines move stock.
	DivisionOTC = "5"
	// DivisionOTCReduced is a report-only bucket for OTC lines sold at the reduced rate.
	DivisionOTCReduced = "6"
)

var Divisions = map[string]string{
	"1":  "患者負担金",
	"2":  "小分け",
	"3":  "容器",
	"4":  "負担金調整",
	"5":  "OTC",
	"6":  "OTC(軽減)",
	"7":  "居宅管理療養費",
	"8":  "患者負担送料",
	"9":  "レジ袋",
	"10": "補聴器本体",
	"11": "補聴器備品",
}

func IsKnownDivision(code string) bool {
	_, ok := Divisions[code]
	return ok
}

// DivisionCodes returns the known division codes in numeric order.
func DivisionCodes() []string {
	codes := make([]string, 0, len(Divisions))
	for code := range Divisions {
		codes = append(codes, code)
	}
	slices.SortFunc(codes, func(a, b string) int {
		ai, _ := strconv.Atoi(a)
		bi, _ := strconv.Atoi(b)
		return ai - bi
	})
	return codes
}
