// Package sqlgen implements the structured-data path: query classification,
// entity extraction, SQL generation, a hardened non-LLM validator, bounded
// execution, and natural-language result formatting.
package sqlgen

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// allowedTables is the dealership schema's read surface. Anything else is
// rejected outright, regardless of how the generated SQL is shaped.
var allowedTables = map[string]bool{
	"vehicles":        true,
	"warranty_claims": true,
	"customers":       true,
	"dealerships":     true,
	"service_history": true,
}

// tablesRequiringDealershipScope get an automatic dealership_id predicate
// injected: the generator never writes the scope condition itself, so a
// prompt-injected SQL string cannot widen it.
var tablesRequiringDealershipScope = map[string]bool{
	"vehicles":        true,
	"warranty_claims": true,
	"customers":       true,
	"service_history": true,
}

// allowedFunctions whitelists aggregate and safe scalar functions. Anything
// outside this set is rejected, closing off the usual SQL-injection via
// function-call surface (pg_sleep, dblink, etc).
var allowedFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"array_agg": true, "string_agg": true,
	"coalesce": true, "nullif": true, "greatest": true, "least": true,
	"abs": true, "ceil": true, "floor": true, "round": true,
	"length": true, "lower": true, "upper": true, "trim": true,
	"substring": true, "concat": true, "concat_ws": true, "replace": true,
	"now": true, "current_date": true, "current_timestamp": true,
	"date_trunc": true, "extract": true, "to_char": true, "to_date": true,
	"date_part": true, "age": true,
}

var dangerousFunctionPrefixes = []string{"pg_", "lo_", "dblink", "file_", "copy_"}

var dangerousFunctions = map[string]bool{
	"current_setting": true, "set_config": true, "query_to_xml": true,
	"xpath": true, "xmlparse": true, "txid_current": true,
}

var systemColumns = map[string]bool{
	"xmin": true, "xmax": true, "cmin": true, "cmax": true, "ctid": true, "tableoid": true,
}

// Validator enforces SQLPath's non-LLM validation phase. It is strict by
// construction: every generated query is parsed with PostgreSQL's own
// grammar rather than matched against patterns, so paraphrased or encoded
// injection attempts fail the same way malformed SQL does.
type Validator struct {
	dealershipID string
}

// NewValidator creates a Validator scoped to one dealership.
func NewValidator(dealershipID string) *Validator {
	return &Validator{dealershipID: dealershipID}
}

// ValidateAndSecure parses sql, rejects it unless it is exactly one
// SELECT-only statement touching only whitelisted tables and functions and
// no system columns (other column names are not checked), and returns a normalized, dealership-scoped query ready to execute.
func (v *Validator) ValidateAndSecure(sql string) (string, error) {
	if err := validateInput(sql); err != nil {
		return "", fmt.Errorf("sqlgen.Validator: %w", err)
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("sqlgen.Validator: %w: parse error: %v", ErrSQLInvalid, err)
	}

	if len(result.Stmts) == 0 {
		return "", fmt.Errorf("sqlgen.Validator: %w: empty query", ErrSQLInvalid)
	}
	if len(result.Stmts) > 1 {
		return "", fmt.Errorf("sqlgen.Validator: %w: multiple statements are not allowed", ErrSQLInvalid)
	}

	selectStmt := result.Stmts[0].Stmt.GetSelectStmt()
	if selectStmt == nil {
		return "", fmt.Errorf("sqlgen.Validator: %w: only SELECT queries are allowed", ErrSQLInvalid)
	}

	tables, err := v.validateSelectStmt(selectStmt)
	if err != nil {
		return "", fmt.Errorf("sqlgen.Validator: %w: %v", ErrSQLInvalid, err)
	}

	v.injectDealershipScope(selectStmt, tables)

	normalized, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("sqlgen.Validator: %w: failed to normalize: %v", ErrSQLInvalid, err)
	}

	return normalized, nil
}

func validateInput(sql string) error {
	if strings.Contains(sql, "\x00") {
		return fmt.Errorf("%w: invalid character in SQL query", ErrSQLInvalid)
	}
	if len(sql) < 6 {
		return fmt.Errorf("%w: SQL query too short", ErrSQLInvalid)
	}
	if len(sql) > 4096 {
		return fmt.Errorf("%w: SQL query too long (max 4096 characters)", ErrSQLInvalid)
	}
	// Comments never survive deparsing, so a comment in the input can only
	// be an attempt to smuggle something past the parser. Reject outright.
	if strings.Contains(sql, "--") || strings.Contains(sql, "/*") {
		return fmt.Errorf("%w: SQL comments are not allowed", ErrSQLInvalid)
	}
	// One optional trailing semicolon is fine; a semicolon anywhere else
	// means a second statement (or an attempt at one).
	if i := strings.IndexByte(sql, ';'); i >= 0 && i != len(strings.TrimRight(sql, " \t\r\n"))-1 {
		return fmt.Errorf("%w: semicolon before end of statement", ErrSQLInvalid)
	}
	return nil
}

func (v *Validator) validateSelectStmt(stmt *pg_query.SelectStmt) (map[string]string, error) {
	tables := make(map[string]string)

	if stmt.Op != pg_query.SetOperation_SETOP_NONE {
		return nil, fmt.Errorf("compound queries (UNION/INTERSECT/EXCEPT) are not allowed")
	}
	if stmt.WithClause != nil {
		return nil, fmt.Errorf("WITH clause (CTEs) is not allowed")
	}
	if stmt.IntoClause != nil {
		return nil, fmt.Errorf("SELECT INTO is not allowed")
	}
	if len(stmt.LockingClause) > 0 {
		return nil, fmt.Errorf("locking clauses (FOR UPDATE, etc.) are not allowed")
	}

	for _, fromItem := range stmt.FromClause {
		if err := v.validateFromItem(fromItem, tables); err != nil {
			return nil, err
		}
	}
	for _, target := range stmt.TargetList {
		if err := v.validateNode(target); err != nil {
			return nil, err
		}
	}
	if stmt.WhereClause != nil {
		if err := v.validateNode(stmt.WhereClause); err != nil {
			return nil, err
		}
	}
	for _, groupBy := range stmt.GroupClause {
		if err := v.validateNode(groupBy); err != nil {
			return nil, err
		}
	}
	if stmt.HavingClause != nil {
		if err := v.validateNode(stmt.HavingClause); err != nil {
			return nil, err
		}
	}
	for _, sortBy := range stmt.SortClause {
		if err := v.validateNode(sortBy); err != nil {
			return nil, err
		}
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("no valid table found in query")
	}
	return tables, nil
}

func (v *Validator) validateFromItem(node *pg_query.Node, tables map[string]string) error {
	if node == nil {
		return nil
	}

	if rv := node.GetRangeVar(); rv != nil {
		tableName := strings.ToLower(rv.Relname)
		if rv.Schemaname != "" && strings.ToLower(rv.Schemaname) != "public" {
			return fmt.Errorf("access to schema '%s' is not allowed", rv.Schemaname)
		}
		if !allowedTables[tableName] {
			return fmt.Errorf("table not allowed: %s", rv.Relname)
		}
		alias := tableName
		if rv.Alias != nil && rv.Alias.Aliasname != "" {
			alias = strings.ToLower(rv.Alias.Aliasname)
		}
		tables[tableName] = alias
		return nil
	}

	if je := node.GetJoinExpr(); je != nil {
		if err := v.validateFromItem(je.Larg, tables); err != nil {
			return err
		}
		if err := v.validateFromItem(je.Rarg, tables); err != nil {
			return err
		}
		if je.Quals != nil {
			return v.validateNode(je.Quals)
		}
		return nil
	}

	if node.GetRangeSubselect() != nil {
		return fmt.Errorf("subqueries in FROM clause are not allowed")
	}
	if node.GetRangeFunction() != nil {
		return fmt.Errorf("functions in FROM clause are not allowed")
	}
	return nil
}

func (v *Validator) validateNode(node *pg_query.Node) error {
	if node == nil {
		return nil
	}

	if node.GetSubLink() != nil {
		return fmt.Errorf("subqueries are not allowed")
	}
	if fc := node.GetFuncCall(); fc != nil {
		return v.validateFuncCall(fc)
	}
	if cr := node.GetColumnRef(); cr != nil {
		return validateColumnRef(cr)
	}
	if tc := node.GetTypeCast(); tc != nil {
		if err := v.validateNode(tc.Arg); err != nil {
			return err
		}
		if tc.TypeName != nil && strings.HasPrefix(strings.ToLower(typeName(tc.TypeName)), "pg_") {
			return fmt.Errorf("casting to system type '%s' is not allowed", typeName(tc.TypeName))
		}
	}
	if ae := node.GetAExpr(); ae != nil {
		if err := v.validateNode(ae.Lexpr); err != nil {
			return err
		}
		if err := v.validateNode(ae.Rexpr); err != nil {
			return err
		}
	}
	if be := node.GetBoolExpr(); be != nil {
		for _, arg := range be.Args {
			if err := v.validateNode(arg); err != nil {
				return err
			}
		}
	}
	if nt := node.GetNullTest(); nt != nil {
		if err := v.validateNode(nt.Arg); err != nil {
			return err
		}
	}
	if ce := node.GetCoalesceExpr(); ce != nil {
		for _, arg := range ce.Args {
			if err := v.validateNode(arg); err != nil {
				return err
			}
		}
	}
	if caseExpr := node.GetCaseExpr(); caseExpr != nil {
		if err := v.validateNode(caseExpr.Arg); err != nil {
			return err
		}
		for _, when := range caseExpr.Args {
			if err := v.validateNode(when); err != nil {
				return err
			}
		}
		if err := v.validateNode(caseExpr.Defresult); err != nil {
			return err
		}
	}
	if cw := node.GetCaseWhen(); cw != nil {
		if err := v.validateNode(cw.Expr); err != nil {
			return err
		}
		if err := v.validateNode(cw.Result); err != nil {
			return err
		}
	}
	if rt := node.GetResTarget(); rt != nil {
		if err := v.validateNode(rt.Val); err != nil {
			return err
		}
	}
	if sb := node.GetSortBy(); sb != nil {
		if err := v.validateNode(sb.Node); err != nil {
			return err
		}
	}
	if list := node.GetList(); list != nil {
		for _, item := range list.Items {
			if err := v.validateNode(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) validateFuncCall(fc *pg_query.FuncCall) error {
	funcName := ""
	for _, namePart := range fc.Funcname {
		if s := namePart.GetString_(); s != nil {
			funcName = strings.ToLower(s.Sval)
		}
	}

	if len(fc.Funcname) > 1 {
		schemaName := ""
		if s := fc.Funcname[0].GetString_(); s != nil {
			schemaName = strings.ToLower(s.Sval)
		}
		if schemaName != "" && schemaName != "pg_catalog" {
			return fmt.Errorf("schema-qualified function calls are not allowed: %s", schemaName)
		}
	}

	for _, prefix := range dangerousFunctionPrefixes {
		if strings.HasPrefix(funcName, prefix) {
			return fmt.Errorf("function '%s' is not allowed (dangerous prefix)", funcName)
		}
	}
	if dangerousFunctions[funcName] {
		return fmt.Errorf("function '%s' is not allowed", funcName)
	}
	if !allowedFunctions[funcName] {
		return fmt.Errorf("function not allowed: %s", funcName)
	}

	for _, arg := range fc.Args {
		if err := v.validateNode(arg); err != nil {
			return err
		}
	}
	return nil
}

func validateColumnRef(cr *pg_query.ColumnRef) error {
	for _, field := range cr.Fields {
		s := field.GetString_()
		if s == nil {
			continue
		}
		colName := strings.ToLower(s.Sval)
		if systemColumns[colName] {
			return fmt.Errorf("access to system column '%s' is not allowed", colName)
		}
		if strings.HasPrefix(colName, "pg_") {
			return fmt.Errorf("access to '%s' is not allowed", colName)
		}
	}
	return nil
}

func typeName(tn *pg_query.TypeName) string {
	var parts []string
	for _, name := range tn.Names {
		if s := name.GetString_(); s != nil {
			parts = append(parts, s.Sval)
		}
	}
	return strings.Join(parts, ".")
}

// injectDealershipScope adds a dealership_id predicate for every table in
// the query that requires one. The generator is never trusted to write this
// condition itself. It mutates stmt's WhereClause directly in the parsed
// tree, ANDing onto any existing condition, before the single Deparse call
// in ValidateAndSecure renders the final SQL. No text is matched or
// spliced, so a string literal in the query that happens to contain the
// word "where" cannot influence where the predicate lands.
func (v *Validator) injectDealershipScope(stmt *pg_query.SelectStmt, tables map[string]string) {
	var conditions []*pg_query.Node
	for tableName, alias := range tables {
		if tablesRequiringDealershipScope[tableName] {
			conditions = append(conditions, dealershipScopeCondition(alias, v.dealershipID))
		}
	}
	if len(conditions) == 0 {
		return
	}

	scope := conditions[0]
	if len(conditions) > 1 {
		scope = andNode(conditions)
	}

	if stmt.WhereClause == nil {
		stmt.WhereClause = scope
		return
	}
	stmt.WhereClause = andNode([]*pg_query.Node{stmt.WhereClause, scope})
}

// dealershipScopeCondition builds the AST for `<alias>.dealership_id = '<id>'`.
func dealershipScopeCondition(alias, dealershipID string) *pg_query.Node {
	columnRef := &pg_query.Node{Node: &pg_query.Node_ColumnRef{ColumnRef: &pg_query.ColumnRef{
		Fields: []*pg_query.Node{
			stringNode(alias),
			stringNode("dealership_id"),
		},
	}}}
	literal := &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val: &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: dealershipID}},
	}}}
	return &pg_query.Node{Node: &pg_query.Node_AExpr{AExpr: &pg_query.A_Expr{
		Kind:  pg_query.A_Expr_Kind_AEXPR_OP,
		Name:  []*pg_query.Node{stringNode("=")},
		Lexpr: columnRef,
		Rexpr: literal,
	}}}
}

func stringNode(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_String_{String_: &pg_query.String{Sval: s}}}
}

func andNode(args []*pg_query.Node) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_BoolExpr{BoolExpr: &pg_query.BoolExpr{
		Boolop: pg_query.BoolExprType_AND_EXPR,
		Args:   args,
	}}}
}
