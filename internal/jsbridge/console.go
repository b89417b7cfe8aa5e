package jsbridge

import (
	"github.com/cryguy/worklet/internal/core"
)

// setupConsole replaces globalThis.console with a Go-backed version that
// writes to the bridge logger.
func setupConsole(rt core.JSRuntime, log *core.Logger) error {
	if err := rt.RegisterFunc("__wk_console", func(level, message string) {
		var b interface{ Log(string) }
		switch level {
		case "error":
			b = log.Err()
		case "warn":
			b = log.Warning()
		case "debug":
			b = log.Debug()
		default:
			b = log.Info()
		}
		b.Log(message)
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}

const consoleJS = `
(function() {
	var out = __wk_console;
	function fmt(args) {
		var parts = [];
		for (var j = 0; j < args.length; j++) {
			var arg = args[j];
			if (typeof arg === 'object' && arg !== null) {
				try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push('[object Object]'); }
			} else {
				parts.push(String(arg));
			}
		}
		return parts.join(' ');
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() { out(lvl, fmt(arguments)); };
		})(levels[i]);
	}

	var counters = {};
	var timers = {};
	con.count = function(label) {
		var l = label || 'default';
		counters[l] = (counters[l] || 0) + 1;
		con.log(l + ': ' + counters[l]);
	};
	con.countReset = function(label) {
		counters[label || 'default'] = 0;
	};
	con.time = function(label) {
		timers[label || 'default'] = Date.now();
	};
	con.timeEnd = function(label) {
		var l = label || 'default';
		if (timers[l] === undefined) { con.warn('Timer "' + l + '" does not exist'); return; }
		con.log(l + ': ' + (Date.now() - timers[l]) + 'ms');
		delete timers[l];
	};
	con.assert = function(cond) {
		if (!cond) {
			var args = Array.prototype.slice.call(arguments, 1);
			con.error(args.length > 0 ? 'Assertion failed: ' + fmt(args) : 'Assertion failed');
		}
	};
	globalThis.console = con;
})();
`
