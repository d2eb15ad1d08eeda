// Package luascript runs analyses written in Lua.
//
// A script defines either on_event(kind, location, payload), which
// receives every event, or any of the named callbacks:
//
//	begin_function(location, args)
//	return_(location, results)
//	call_pre(location, func, args, slot)
//	call_post(location, results)
//	global(location, op, index, value)
//	load(location, op, memarg, value)
//	store(location, op, memarg, value)
//	memory_grow(location, delta, previous)
//	table_get(location, index, value)
//	table_set(location, index, value)
//
// location is a table {id, func, instr}; memarg is {addr, offset, align}.
// Scripts run in a sandbox with only the base, table, string and math
// libraries. Script errors are logged and counted; the guest keeps
// running.
package luascript
