package jsbridge

// preludeJS installs globalThis.__wk, the engine half of the bridge. It
// keeps the id tables for functions and objects handed to Go, the proxies
// for Go values held by reference, the compiled worklet factories, and the
// wire encoder and decoder mirrored by wire.go.
//
// Everything reaching Go goes through __wk_host(op, json) which returns a
// wire JSON document or throws.
const preludeJS = `
(function (g) {
  'use strict';
  if (g.__wk) return;

  var host = g.__wk_host;

  var fns = new Map(), fnIds = new WeakMap(), nextFn = 1;
  var objIds = new WeakMap(), nextObj = 1;
  var info = new WeakMap();
  var factories = new Map();

  // Go values seen by reference (host functions, shared values and frozen
  // objects) map to one engine object per ref id. With finalization the
  // cache is weak and Go is told when the last proxy for an id dies.
  var fin = typeof FinalizationRegistry === 'function' && typeof WeakRef === 'function' ?
    new FinalizationRegistry(unref) : null;
  var refs = new Map(), refIds = new WeakMap(), live = new Map();

  function fnId(f) {
    var id = fnIds.get(f);
    if (id === undefined) {
      id = nextFn++;
      fnIds.set(f, id);
    }
    if (!fns.has(id)) fns.set(id, f);
    return id;
  }

  function objId(o) {
    var id = objIds.get(o);
    if (id === undefined) {
      id = nextObj++;
      objIds.set(o, id);
    }
    return id;
  }

  function proxy(id) {
    var r = refs.get(id);
    if (r === undefined) return undefined;
    return fin ? r.deref() : r;
  }

  function remember(id, p) {
    refIds.set(p, id);
    if (!fin) {
      refs.set(id, p);
      return p;
    }
    refs.set(id, new WeakRef(p));
    fin.register(p, id);
    live.set(id, (live.get(id) || 0) + 1);
    return p;
  }

  function unref(id) {
    var n = (live.get(id) || 1) - 1;
    if (n > 0) {
      live.set(id, n);
      return;
    }
    live.delete(id);
    var r = refs.get(id);
    if (r !== undefined && r.deref() === undefined) refs.delete(id);
    try {
      host('release', JSON.stringify(enc([id], [])));
    } catch (e) {
      // the bridge is closing
    }
  }

  function Handle(id) {
    Object.defineProperty(this, '__wkId', { value: id });
  }
  Object.defineProperty(Handle.prototype, 'value', {
    get: function () { return api('get', [this]); },
    set: function (v) { api('set', [this, v]); }
  });
  Handle.prototype.addListener = function (id, fn) { api('addListener', [this, id, fn]); };
  Handle.prototype.removeListener = function (id) { api('removeListener', [this, id]); };

  function hostFn(id, name) {
    var p = function () {
      return api('callHost', [id].concat(Array.prototype.slice.call(arguments)));
    };
    Object.defineProperty(p, 'name', { value: name || 'host' });
    return p;
  }

  function enc(v, seen) {
    if (v === null) return null;
    switch (typeof v) {
      case 'undefined': return { $t: 'u' };
      case 'boolean':
      case 'string': return v;
      case 'number': return isFinite(v) ? v : { $t: 'n', v: String(v) };
      case 'function': return encFn(v, seen);
      case 'object': break;
      default: return { $t: 'x', d: typeof v };
    }
    if (v instanceof Handle) return { $t: 'm', id: v.__wkId };
    if (seen.indexOf(v) !== -1) throw new TypeError('cannot share a value that contains itself');
    seen.push(v);
    try {
      var ref = refIds.get(v);
      if (Array.isArray(v)) {
        var a = new Array(v.length);
        for (var i = 0; i < v.length; i++) a[i] = enc(v[i], seen);
        return ref !== undefined ? { $t: 'a', g: ref, v: a, fz: true } : { $t: 'a', id: objId(v), v: a };
      }
      var proto = Object.getPrototypeOf(v);
      if (proto !== Object.prototype && proto !== null) {
        return { $t: 'x', d: (v.constructor && v.constructor.name) || 'object' };
      }
      var ks = Object.keys(v), vs = new Array(ks.length);
      for (var j = 0; j < ks.length; j++) vs[j] = enc(v[ks[j]], seen);
      return ref !== undefined ? { $t: 'o', g: ref, k: ks, v: vs, fz: true } : { $t: 'o', id: objId(v), k: ks, v: vs };
    } finally {
      seen.pop();
    }
  }

  function encFn(f, seen) {
    var hid = refIds.get(f);
    if (hid !== undefined) return { $t: 'h', id: hid };
    var w = info.get(f);
    if (w) {
      return { $t: 'w', id: fnId(f), name: w.name, code: w.code, closure: enc(w.closure, seen) };
    }
    return { $t: 'f', id: fnId(f), name: f.name || '' };
  }

  function dec(w) {
    if (w === null || typeof w !== 'object') return w;
    var i, out;
    switch (w.$t) {
      case 'u': return undefined;
      case 'n': return Number(w.v);
      case 'a':
        if (w.g && (out = proxy(w.g))) return out;
        out = new Array(w.v.length);
        for (i = 0; i < w.v.length; i++) out[i] = dec(w.v[i]);
        if (w.fz) Object.freeze(out);
        return w.g ? remember(w.g, out) : out;
      case 'o':
        if (w.g && (out = proxy(w.g))) return out;
        out = {};
        for (i = 0; i < w.k.length; i++) out[w.k[i]] = dec(w.v[i]);
        if (w.fz) Object.freeze(out);
        return w.g ? remember(w.g, out) : out;
      case 'h': return proxy(w.id) || remember(w.id, hostFn(w.id, w.name));
      case 'm': return proxy(w.id) || remember(w.id, new Handle(w.id));
      case 'f':
        if (!fns.has(w.id)) throw new ReferenceError('function ' + w.id + ' is not registered');
        return fns.get(w.id);
      case 'w': return instantiate(w.hash, w.name, w.code, w.body, dec(w.closure));
      case 'x': return undefined;
    }
    throw new TypeError('unknown wire tag ' + w.$t);
  }

  function instantiate(hash, name, code, body, closure) {
    var names = Object.keys(closure);
    var key = hash + '|' + names.join(',');
    var make = factories.get(key);
    if (!make) {
      make = Function.apply(null, names.concat([body + '\nreturn __wk_fn;']));
      factories.set(key, make);
    }
    var args = new Array(names.length);
    for (var i = 0; i < names.length; i++) args[i] = closure[names[i]];
    var f = make.apply(null, args);
    if (typeof f !== 'function') throw new TypeError('worklet ' + name + ' did not evaluate to a function');
    info.set(f, { name: name, code: code, closure: closure });
    return f;
  }

  function api(op, args) {
    return dec(JSON.parse(host(op, JSON.stringify(enc(args, [])))));
  }

  g.__wk = {
    encode: function (v) { return JSON.stringify(enc(v, [])); },
    decode: function (s) { return dec(JSON.parse(s)); },
    compile: function (s) { return fnId(dec(JSON.parse(s))); },
    call: function (id, s) {
      var f = fns.get(id);
      if (!f) throw new ReferenceError('function ' + id + ' is not registered');
      return JSON.stringify(enc(f.apply(undefined, dec(JSON.parse(s))), []));
    },
    factories: function () { return factories.size; },
    finalizes: fin !== null,

    worklet: function (fn, closure, name) {
      if (typeof fn !== 'function') throw new TypeError('worklet expects a function');
      info.set(fn, { name: name || fn.name || '', code: String(fn), closure: closure || {} });
      return fn;
    },
    makeShareable: function (v) { return api('makeShareable', [v]); },
    makeMutable: function (v) { return api('makeMutable', [v]); },
    startMapper: function (fn, inputs, outputs) { return api('startMapper', [fn, inputs || [], outputs || []]); },
    stopMapper: function (id) { api('stopMapper', [id]); },
    registerEventHandler: function (fn, names) {
      return api('registerEventHandler', [fn, typeof names === 'string' ? [names] : names]);
    },
    unregisterEventHandler: function (id) { api('unregisterEventHandler', [id]); },
    runOnUI: function (fn) {
      return function () { api('runOnUI', [fn].concat(Array.prototype.slice.call(arguments))); };
    },
    runOnJS: function (fn) {
      return function () { api('runOnJS', [fn].concat(Array.prototype.slice.call(arguments))); };
    }
  };
})(globalThis);
`
