package policy

// DefaultModules are importable unless configuration replaces the list.
// Names are engine neutral; an engine that has no module of that name
// reports "not found", which is distinct from a denial.
var DefaultModules = []string{
	"base64",
	"enum",
	"fmt",
	"hex",
	"json",
	"math",
	"rand",
	"random",
	"re",
	"strings",
	"text",
	"time",
	"times",
}

// DefaultBuiltins are the symbols a fresh namespace may expose.
//
// eval, Function, Proxy, Reflect, WebAssembly and fetch are deliberately
// missing. fetch is added only through Policy.With when an operator enables
// it.
var DefaultBuiltins = []string{
	// Console helpers shared by every engine.
	"all",
	"any",
	"console",
	"enumerate",
	"filter",
	"getattr",
	"globals",
	"hasattr",
	"len",
	"map",
	"max",
	"min",
	"print",
	"range",
	"sorted",
	"sum",
	"vars",

	// ECMAScript language primitives.
	"Array",
	"ArrayBuffer",
	"Boolean",
	"DataView",
	"Date",
	"Error",
	"EvalError",
	"Float32Array",
	"Float64Array",
	"Infinity",
	"Int16Array",
	"Int32Array",
	"Int8Array",
	"JSON",
	"Map",
	"Math",
	"NaN",
	"Number",
	"Object",
	"Promise",
	"RangeError",
	"ReferenceError",
	"RegExp",
	"Set",
	"String",
	"Symbol",
	"SyntaxError",
	"TypeError",
	"URIError",
	"Uint16Array",
	"Uint32Array",
	"Uint8Array",
	"Uint8ClampedArray",
	"WeakMap",
	"WeakSet",
	"decodeURI",
	"decodeURIComponent",
	"encodeURI",
	"encodeURIComponent",
	"escape",
	"globalThis",
	"isFinite",
	"isNaN",
	"parseFloat",
	"parseInt",
	"undefined",
	"unescape",

	// Tengo conversion and introspection builtins.
	"append",
	"bool",
	"bytes",
	"char",
	"copy",
	"delete",
	"float",
	"format",
	"int",
	"is_array",
	"is_bool",
	"is_bytes",
	"is_callable",
	"is_char",
	"is_error",
	"is_float",
	"is_function",
	"is_immutable_array",
	"is_immutable_map",
	"is_int",
	"is_iterable",
	"is_map",
	"is_string",
	"is_time",
	"is_undefined",
	"splice",
	"string",
	"time",
	"type_name",
}
