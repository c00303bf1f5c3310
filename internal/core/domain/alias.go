package domain

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// OutputColumnMasks maps masks keyed by source column name onto the result
// column names of a SELECT. A masked column renamed with AS keeps its mask
// under the alias; unaliased columns keep their name. Parse failures return
// the masks unchanged.
func OutputColumnMasks(sql string, masks map[string]MaskType) map[string]MaskType {
	if len(masks) == 0 {
		return masks
	}
	out := make(map[string]MaskType, len(masks))
	for col, m := range masks {
		out[col] = m
	}
	for source, alias := range selectAliases(sql) {
		if m, ok := masks[source]; ok {
			out[alias] = m
		}
	}
	return out
}

// selectAliases returns source column → alias for every simple column
// reference renamed with AS in the top-level target list.
func selectAliases(sql string) map[string]string {
	aliases := make(map[string]string)

	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) == 0 || tree.Stmts[0].Stmt == nil {
		return aliases
	}
	sel, ok := tree.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return aliases
	}

	for _, target := range sel.SelectStmt.TargetList {
		rt := target.GetResTarget()
		if rt == nil || rt.Name == "" || rt.Val == nil {
			continue
		}
		ref := rt.Val.GetColumnRef()
		if ref == nil || len(ref.Fields) == 0 {
			continue
		}
		// c."Email" has fields [c, Email]; the column is the last one.
		last := ref.Fields[len(ref.Fields)-1].GetString_()
		if last == nil || last.Sval == "" || last.Sval == rt.Name {
			continue
		}
		aliases[last.Sval] = rt.Name
	}
	return aliases
}
