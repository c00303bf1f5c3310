package port

// QueryValidator checks a source query before its result table is fetched.
type QueryValidator interface {
	Validate(sql string) error
}
