package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Filter は行ストレージのクエリ条件（列・演算子・値）。
type Filter struct {
	Column   string
	Operator string
	Values   []string
}

// Eq は列が値と等しい条件を返す。
func Eq(column, value string) Filter {
	return Filter{Column: column, Operator: "eq", Values: []string{value}}
}

// In は列が値のいずれかと等しい条件を返す。
func In(column string, values ...string) Filter {
	return Filter{Column: column, Operator: "in", Values: values}
}

func (f Filter) encode() string {
	if f.Operator == "in" {
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		return "in.(" + strings.Join(quoted, ",") + ")"
	}
	var v string
	if len(f.Values) > 0 {
		v = f.Values[0]
	}
	return f.Operator + "." + v
}

// Query は一覧取得の条件。
type Query struct {
	Columns    string // 空の場合は "*"
	Filters    []Filter
	OrderBy    string
	Descending bool
	Offset     int
	Limit      int  // 0の場合は指定しない
	Count      bool // trueの場合は総件数を返す
}

func (q Query) values() url.Values {
	v := url.Values{}
	cols := q.Columns
	if cols == "" {
		cols = "*"
	}
	v.Set("select", cols)
	for _, f := range q.Filters {
		v.Add(f.Column, f.encode())
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func filterValues(filters []Filter) url.Values {
	v := url.Values{}
	for _, f := range filters {
		v.Add(f.Column, f.encode())
	}
	return v
}

// RestClient は行ストレージのREST API（/rest/v1）のクライアント。
// コンテキストにアクセストークンがあればそれを、なければAPIキーをBearerとして送る。
type RestClient struct {
	client *Client
}

// NewRestClient はRestClientを生成する。
func NewRestClient(client *Client) *RestClient {
	return &RestClient{client: client}
}

func tablePath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

// Select は条件に一致する行をdestにデコードする。
// q.Countがtrueの場合はContent-Rangeヘッダーから総件数を返し、それ以外は-1を返す。
func (r *RestClient) Select(ctx context.Context, table string, q Query, dest any) (int, error) {
	header := http.Header{}
	if q.Count {
		header.Set("Prefer", "count=exact")
	}
	respHeader, err := r.client.do(ctx, request{
		operation: "rest.select." + table,
		method:    http.MethodGet,
		path:      tablePath(table),
		query:     q.values(),
		header:    header,
		bearer:    AccessTokenFromContext(ctx),
		retry:     true,
	}, dest)
	if err != nil {
		return 0, err
	}
	if !q.Count {
		return -1, nil
	}
	total, err := parseContentRangeTotal(respHeader.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("failed to read total count of %s: %w", table, err)
	}
	return total, nil
}

// Insert は行を追加し、作成された行をdestにデコードする。
func (r *RestClient) Insert(ctx context.Context, table string, row any, dest any) error {
	_, err := r.client.do(ctx, request{
		operation: "rest.insert." + table,
		method:    http.MethodPost,
		path:      tablePath(table),
		header:    preferHeader(dest != nil),
		bearer:    AccessTokenFromContext(ctx),
		body:      row,
	}, dest)
	return err
}

// Upsert はonConflict列が衝突した場合に既存行へマージする形で行を書き込む。
func (r *RestClient) Upsert(ctx context.Context, table string, row any, onConflict string, dest any) error {
	header := preferHeader(dest != nil)
	header.Set("Prefer", "resolution=merge-duplicates,"+header.Get("Prefer"))
	query := url.Values{}
	if onConflict != "" {
		query.Set("on_conflict", onConflict)
	}
	_, err := r.client.do(ctx, request{
		operation: "rest.upsert." + table,
		method:    http.MethodPost,
		path:      tablePath(table),
		query:     query,
		header:    header,
		bearer:    AccessTokenFromContext(ctx),
		body:      row,
	}, dest)
	return err
}

// Update は条件に一致する行を部分更新する。
func (r *RestClient) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	_, err := r.client.do(ctx, request{
		operation: "rest.update." + table,
		method:    http.MethodPatch,
		path:      tablePath(table),
		query:     filterValues(filters),
		header:    preferHeader(dest != nil),
		bearer:    AccessTokenFromContext(ctx),
		body:      patch,
	}, dest)
	return err
}

// Delete は条件に一致する行を削除する。
func (r *RestClient) Delete(ctx context.Context, table string, filters []Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing to delete from %s without filters", table)
	}
	_, err := r.client.do(ctx, request{
		operation: "rest.delete." + table,
		method:    http.MethodDelete,
		path:      tablePath(table),
		query:     filterValues(filters),
		bearer:    AccessTokenFromContext(ctx),
	}, nil)
	return err
}

func preferHeader(returnRows bool) http.Header {
	h := http.Header{}
	if returnRows {
		h.Set("Prefer", "return=representation")
	} else {
		h.Set("Prefer", "return=minimal")
	}
	return h
}

// parseContentRangeTotal は "0-9/42" や "*/0" 形式から総件数を取り出す。
func parseContentRangeTotal(v string) (int, error) {
	idx := strings.LastIndex(v, "/")
	if idx < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	total := v[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("Content-Range %q has unknown total", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q: %w", v, err)
	}
	return n, nil
}
