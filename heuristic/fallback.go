package heuristic

import "strings"

// GenericPlan is used when no usable plan could be produced.
func GenericPlan() []string {
	return []string{"사용자 요청 분석", "필요한 정보 수집", "결과 생성"}
}

// ArithmeticFallbackPlan replaces an irrelevant plan for calculation queries.
func ArithmeticFallbackPlan() []string {
	return []string{"사용자의 계산 요청 분석", "계산 수행", "결과 제공"}
}

// FallbackPlan picks the fallback for a rejected plan: the arithmetic plan
// when the query asks for a calculation, the generic plan otherwise.
func FallbackPlan(query string) []string {
	if strings.Contains(query, "계산") || containsAny(query, []string{"+", "-", "*", "/"}) {
		return ArithmeticFallbackPlan()
	}
	return GenericPlan()
}
