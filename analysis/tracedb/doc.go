// Package tracedb stores analysis events in SQLite.
//
// A Store is an analysis.Analysis. Events are buffered and written in
// batches inside one transaction; call Flush or Close to write the rest.
// Sites of the instrumented module can be loaded alongside so traces can
// be queried by function and instruction:
//
//	SELECT s.func, s.op, COUNT(*) FROM events e JOIN sites s ON s.id = e.loc GROUP BY 1, 2;
package tracedb
