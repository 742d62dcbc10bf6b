package search

// M is the shape of every OpenSearch query fragment.
type M = map[string]any

// The painless script used for byte-volume aggregations. Missing
// fields are guarded so documents without counters still aggregate.
const totalBytesScript = "(doc.containsKey('orig_bytes') && !doc['orig_bytes'].empty ? doc['orig_bytes'].value : 0) + " +
	"(doc.containsKey('resp_bytes') && !doc['resp_bytes'].empty ? doc['resp_bytes'].value : 0)"

// Range builds a range filter over [gte, lte]. Nil bounds are omitted.
func Range(field string, gte, lte any) M {
	bounds := M{}
	if gte != nil {
		bounds["gte"] = gte
	}
	if lte != nil {
		bounds["lte"] = lte
	}
	return M{"range": M{field: bounds}}
}

// TimeRangeFilter builds the standard ts range filter for a TimeRange.
func TimeRangeFilter(tr TimeRange) M {
	return Range("ts", tr.From.Format(rfc3339Millis), tr.To.Format(rfc3339Millis))
}

// Term builds an exact-match filter.
func Term(field string, value any) M {
	return M{"term": M{field: value}}
}

// Terms builds a multi-value exact-match filter.
func Terms(field string, values ...any) M {
	return M{"terms": M{field: values}}
}

// Exists builds an exists filter.
func Exists(field string) M {
	return M{"exists": M{"field": field}}
}

// Wildcard builds a wildcard filter.
func Wildcard(field, pattern string) M {
	return M{"wildcard": M{field: pattern}}
}

// BoolQuery assembles a bool query from its clause lists. Empty clause
// lists are omitted from the body.
type BoolQuery struct {
	Filter  []M
	Must    []M
	MustNot []M
	Should  []M
}

// Build renders the bool query fragment.
func (b BoolQuery) Build() M {
	clauses := M{}
	if len(b.Filter) > 0 {
		clauses["filter"] = b.Filter
	}
	if len(b.Must) > 0 {
		clauses["must"] = b.Must
	}
	if len(b.MustNot) > 0 {
		clauses["must_not"] = b.MustNot
	}
	if len(b.Should) > 0 {
		clauses["should"] = b.Should
	}
	return M{"bool": clauses}
}

// TermsAgg builds a terms aggregation, optionally with sub-aggregations.
func TermsAgg(field string, size int, subAggs M) M {
	agg := M{"terms": M{"field": field, "size": size}}
	if len(subAggs) > 0 {
		agg["aggs"] = subAggs
	}
	return agg
}

// SumAgg builds a sum aggregation over a field.
func SumAgg(field string) M {
	return M{"sum": M{"field": field}}
}

// ScriptedTotalBytesAgg sums orig_bytes + resp_bytes via painless,
// tolerating documents that miss either counter.
func ScriptedTotalBytesAgg() M {
	return M{"sum": M{"script": M{"source": totalBytesScript, "lang": "painless"}}}
}

// DateHistogramAgg builds a fixed-interval date histogram over ts.
func DateHistogramAgg(interval string, subAggs M) M {
	agg := M{"date_histogram": M{"field": "ts", "fixed_interval": interval}}
	if len(subAggs) > 0 {
		agg["aggs"] = subAggs
	}
	return agg
}

// CardinalityAgg builds a cardinality aggregation over a field.
func CardinalityAgg(field string) M {
	return M{"cardinality": M{"field": field}}
}

// Body is a full search request body.
type Body struct {
	Query M
	Aggs  M
	Size  *int
	From  *int
	Sort  []M
}

// Build renders the request body map.
func (b Body) Build() M {
	body := M{}
	if b.Query != nil {
		body["query"] = b.Query
	}
	if len(b.Aggs) > 0 {
		body["aggs"] = b.Aggs
	}
	if b.Size != nil {
		body["size"] = *b.Size
	}
	if b.From != nil {
		body["from"] = *b.From
	}
	if len(b.Sort) > 0 {
		body["sort"] = b.Sort
	}
	return body
}

// SortByTimeDesc is the standard newest-first sort clause.
func SortByTimeDesc() []M {
	return []M{{"ts": M{"order": "desc"}}}
}

// IntPtr is a convenience for Body.Size / Body.From.
func IntPtr(v int) *int {
	return &v
}
