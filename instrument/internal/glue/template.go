package glue

import "github.com/wippyai/wasabi/instrument/internal/hook"

// categories holds the JavaScript function implementing each hook
// category. Every import of a category is bound to it with its variant as
// the first argument.
var categories = map[hook.Hook]string{
	hook.Begin: `  function on_begin(variant, loc, func, ...args) {
    emit("begin_function", loc, { func: func, args: args }, "begin_function", [location(loc), args]);
  }
`,
	hook.End: `  function on_end(variant, loc, ...results) {
    emit("end_function", loc, { results: results }, "return_", [location(loc), results]);
  }
`,
	hook.Call: `  function on_call(variant, loc, ...rest) {
    if (variant === "call_post") {
      emit("call_post", loc, { results: rest }, "call_post", [location(loc), rest]);
      return;
    }
    const head = rest.shift();
    let func = head;
    let slot;
    if (variant === "call_indirect_pre") {
      slot = head;
      func = Wasabi.resolveTableSlot(Wasabi.module.sites[loc].table, slot);
    }
    const payload = { func: func, args: rest, indirect: slot !== undefined, slot: slot };
    emit("call_pre", loc, payload, "call_pre", [location(loc), func, rest, slot]);
  }
`,
	hook.Global: `  function on_global(variant, loc, index, value) {
    const op = variant === "global_get" ? "global.get" : "global.set";
    emit("global", loc, { op: op, index: index, value: value }, "global", [location(loc), op, index, value]);
  }
`,
	hook.Load: `  function on_load(variant, loc, addr, value) {
    const site = Wasabi.module.sites[loc];
    const memarg = { addr: addr, offset: site.offset || 0, align: site.align || 0 };
    emit("load", loc, { op: site.op, memarg: memarg, value: value }, "load", [location(loc), site.op, memarg, value]);
  }
`,
	hook.Store: `  function on_store(variant, loc, addr, value) {
    const site = Wasabi.module.sites[loc];
    const memarg = { addr: addr, offset: site.offset || 0, align: site.align || 0 };
    emit("store", loc, { op: site.op, memarg: memarg, value: value }, "store", [location(loc), site.op, memarg, value]);
  }
`,
	hook.MemoryGrow: `  function on_memory_grow(variant, loc, delta, previous) {
    emit("memory_grow", loc, { delta: delta, previous: previous }, "memory_grow", [location(loc), delta, previous]);
  }
`,
	hook.TableGet: `  function on_table_get(variant, loc, index, value) {
    const table = Wasabi.module.sites[loc].table || 0;
    emit("table_get", loc, { table: table, index: index, value: value }, "table_get", [location(loc), index, value]);
  }
`,
	hook.TableSet: `  function on_table_set(variant, loc, index, value) {
    const table = Wasabi.module.sites[loc].table || 0;
    emit("table_set", loc, { table: table, index: index, value: value }, "table_set", [location(loc), index, value]);
  }
`,
}

const glueSource = `// Generated by wasabi. Do not edit.
// Hooks: {{.Hooks}}
// Mode: {{if .Node}}node{{else}}browser{{end}}
{{- if .Sites}}
//
// Sites (id, function, instruction, variant):
{{- range .Sites}}
//   {{.ID}} func {{.Func}} {{if eq .Instr -1}}entry{{else}}instr {{.Instr}}{{end}} {{.Variant}}{{if .Op}} {{.Op}}{{end}}
{{- end}}
{{- end}}

const Wasabi = (function () {
  "use strict";

  const manifest = {{.Manifest}};

  const Wasabi = {
    HOOK_MODULE: manifest.hookModule,
    module: {
      info: manifest.info,
      sites: manifest.sites,
      exports: null,
      lowlevelHooks: null,
    },
    analysis: {},
  };

  function location(loc) {
    const site = Wasabi.module.sites[loc];
    return { func: site.func, instr: site.instr };
  }

  function emit(kind, loc, payload, name, args) {
    const analysis = Wasabi.analysis;
    if (typeof analysis.onEvent === "function") {
      analysis.onEvent(kind, location(loc), payload);
      return;
    }
    const callback = analysis[name];
    if (typeof callback === "function") {
      callback.apply(analysis, args);
    }
  }

{{range .Categories}}{{.}}
{{end -}}
  Wasabi.module.lowlevelHooks = {
{{- range .Bindings}}
    {{quote .Name}}: (...args) => {{.Func}}({{quote .Variant}}, ...args),
{{- end}}
  };

  Wasabi.resolveTableSlot = function (table, slot) {
    const name = manifest.tableExports[table];
    const exports = Wasabi.module.exports;
    if (!exports || name === undefined) {
      return undefined;
    }
    const fn = exports[name].get(slot);
    if (fn === null) {
      return undefined;
    }
    const idx = Number.parseInt(fn.name, 10);
    if (Number.isNaN(idx)) {
      return undefined;
    }
    const lo = manifest.info.originalImportedFunctions;
    const added = manifest.info.hookImports;
    return idx >= lo + added ? idx - added : idx;
  };
{{if .CallDepth}}
  Wasabi.callDepth = function () {
    const g = Wasabi.module.exports && Wasabi.module.exports[{{quote .CallDepth}}];
    return g ? g.value : undefined;
  };
{{end}}
  Wasabi.importObject = function (imports) {
    const obj = Object.assign({}, imports);
    obj[Wasabi.HOOK_MODULE] = Wasabi.module.lowlevelHooks;
    return obj;
  };
{{if .Node}}
  Wasabi.instantiate = async function (path, imports) {
    const bytes = require("fs").readFileSync(path);
    const { instance } = await WebAssembly.instantiate(bytes, Wasabi.importObject(imports));
    Wasabi.module.exports = instance.exports;
    return instance;
  };

  module.exports = Wasabi;
{{- else}}
  Wasabi.instantiate = async function (url, imports) {
    const { instance } = await WebAssembly.instantiateStreaming(fetch(url), Wasabi.importObject(imports));
    Wasabi.module.exports = instance.exports;
    return instance;
  };

  globalThis.Wasabi = Wasabi;
{{- end}}
  return Wasabi;
})();
`
