package domain

// CardinalityClass describes the distribution shape of a column's values.
type CardinalityClass string

const (
	CardinalityEmpty           CardinalityClass = "empty"
	CardinalityUnique          CardinalityClass = "unique"
	CardinalityNearUnique      CardinalityClass = "near_unique"
	CardinalityHighCardinality CardinalityClass = "high_cardinality"
	CardinalityLowCardinality  CardinalityClass = "low_cardinality"
	CardinalityEnumLike        CardinalityClass = "enum_like"
)

// ClassifyByDistinctCount determines the cardinality class of a string or list
// column from its distinct count and its count of non-null values.
func ClassifyByDistinctCount(distinctCount int64, notNullCount int64) CardinalityClass {
	if notNullCount <= 0 {
		return CardinalityEmpty
	}
	if distinctCount == notNullCount {
		return CardinalityUnique
	}
	if float64(distinctCount)/float64(notNullCount) >= 0.9 {
		return CardinalityNearUnique
	}
	if distinctCount <= 20 {
		return CardinalityEnumLike
	}
	if distinctCount <= 200 {
		return CardinalityLowCardinality
	}
	return CardinalityHighCardinality
}
