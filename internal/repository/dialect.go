package repository

import (
	"regexp"
	"strings"
)

// Dialect はSQL方言の差分を表す。
// クエリはPostgreSQLの $n プレースホルダで記述し、必要に応じて書き換える。
type Dialect struct {
	Name string
	// LockClause は行ロックを取得するSELECTの末尾句。SQLiteはIMMEDIATEトランザクションで代替する。
	LockClause string
	// UniqueViolation はドライバーのエラーメッセージから一意制約違反を判定する。
	UniqueViolation func(err error) bool
	rebind          bool
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// PostgresDialect はPostgreSQL用の方言。
var PostgresDialect = Dialect{
	Name:       "postgres",
	LockClause: " FOR UPDATE",
	UniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "duplicate key value")
	},
}

// SQLiteDialect はSQLite用の方言。
var SQLiteDialect = Dialect{
	Name:       "sqlite",
	LockClause: "",
	UniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
	rebind: true,
}

// Q はクエリを方言に合わせて書き換える。
func (d Dialect) Q(query string) string {
	if !d.rebind {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}
