package browser

// notifyBinding is the page function exposed by Page.install. Every call
// carries one message object with a "t" discriminator.
const notifyBinding = "__pageprobeNotify"

// probeScript runs before any page script. It hands out numeric ids for
// elements, records listeners added through addEventListener, wraps the
// request APIs and forwards DOM mutations once the page has loaded.
//
// Messages:
//
//	{t:"mutations", records:[{k:"added"|"attr", e:[id,tag,desc]|null, a}]}
//	{t:"request", type, method, url, data}
//	{t:"sent", ref} / {t:"done", ref}
//	{t:"navigate", url}
const probeScript = `(() => {
	if (window.__pageprobe) return;

	const nodes = new Map();
	const ids = new WeakMap();
	const listeners = new WeakMap();
	let nextId = 1, seq = 0, refs = 0;

	const describe = (n) => {
		let s = n.tagName.toLowerCase();
		if (n.id) s += '#' + n.id;
		const c = (n.getAttribute('class') || '').trim().split(/\s+/)[0];
		if (c) s += '.' + c;
		return s;
	};

	const reg = (n) => {
		if (!n || n.nodeType !== 1) return null;
		let id = ids.get(n);
		if (!id) {
			id = nextId++;
			ids.set(n, id);
			nodes.set(id, n);
		}
		return [id, n.tagName.toLowerCase(), describe(n)];
	};

	const node = (id) => {
		const n = nodes.get(id);
		if (!n) throw new Error('unknown element ' + id);
		return n;
	};

	const abs = (u) => {
		try { return new URL(String(u), document.baseURI).href; } catch (e) { return String(u); }
	};

	const body = (b) => {
		if (b == null) return '';
		if (typeof b === 'string') return b;
		if (b instanceof URLSearchParams) return b.toString();
		if (typeof FormData !== 'undefined' && b instanceof FormData) {
			const p = new URLSearchParams();
			for (const [k, v] of b.entries()) p.append(k, typeof v === 'string' ? v : '');
			return p.toString();
		}
		try { return String(b); } catch (e) { return ''; }
	};

	const post = (msg) => {
		const send = window.` + notifyBinding + `;
		if (typeof send !== 'function') return;
		seq++;
		try { send(msg).catch(() => {}); } catch (e) {}
	};

	const addListener = EventTarget.prototype.addEventListener;
	EventTarget.prototype.addEventListener = function (type, fn, opts) {
		if (this && this.nodeType === 1) {
			let s = listeners.get(this);
			if (!s) { s = new Set(); listeners.set(this, s); }
			s.add(String(type).toLowerCase());
		}
		return addListener.call(this, type, fn, opts);
	};

	const xhrOpen = XMLHttpRequest.prototype.open;
	const xhrSend = XMLHttpRequest.prototype.send;
	XMLHttpRequest.prototype.open = function (method, url) {
		this.__pageprobe = { method: String(method || 'GET'), url: abs(url) };
		return xhrOpen.apply(this, arguments);
	};
	XMLHttpRequest.prototype.send = function (data) {
		const info = this.__pageprobe;
		if (!info) return xhrSend.apply(this, arguments);
		const ref = ++refs;
		post({ t: 'request', type: 'xhr', method: info.method, url: info.url, data: body(data) });
		post({ t: 'sent', ref });
		addListener.call(this, 'loadend', () => post({ t: 'done', ref }));
		try {
			return xhrSend.apply(this, arguments);
		} catch (e) {
			post({ t: 'done', ref });
			throw e;
		}
	};

	if (window.fetch) {
		const origFetch = window.fetch;
		window.fetch = function (input, init) {
			const req = (typeof Request !== 'undefined' && input instanceof Request) ? input : null;
			const method = (init && init.method) || (req && req.method) || 'GET';
			const url = abs(req ? req.url : input);
			const ref = ++refs;
			post({ t: 'request', type: 'xhr', method: String(method), url, data: body(init && init.body) });
			post({ t: 'sent', ref });
			let p;
			try {
				p = origFetch.apply(this, arguments);
			} catch (e) {
				post({ t: 'done', ref });
				throw e;
			}
			p.then(() => post({ t: 'done', ref }), () => post({ t: 'done', ref }));
			return p;
		};
	}

	if (window.WebSocket) {
		const OrigWS = window.WebSocket;
		const WS = function (url, protocols) {
			post({ t: 'request', type: 'websocket', method: 'GET', url: abs(url), data: '' });
			return protocols === undefined ? new OrigWS(url) : new OrigWS(url, protocols);
		};
		WS.prototype = OrigWS.prototype;
		['CONNECTING', 'OPEN', 'CLOSING', 'CLOSED'].forEach((k) => { WS[k] = OrigWS[k]; });
		window.WebSocket = WS;
	}

	window.open = function (url) {
		if (url) post({ t: 'navigate', url: abs(url) });
		return null;
	};
	window.close = function () {};

	const observe = () => {
		new MutationObserver((list) => {
			const records = [];
			for (const m of list) {
				if (m.type === 'childList') {
					m.addedNodes.forEach((n) => records.push({ k: 'added', e: reg(n) }));
				} else if (m.type === 'attributes') {
					records.push({ k: 'attr', e: reg(m.target), a: m.attributeName });
				}
			}
			if (records.length) post({ t: 'mutations', records });
		}).observe(document, { childList: true, subtree: true, attributes: true });
	};
	addListener.call(window, 'load', observe, { once: true });

	const api = {
		root: () => reg(document.documentElement),
		attr: (id, name) => {
			const n = node(id);
			return n.hasAttribute(name) ? [true, n.getAttribute(name)] : [false, ''];
		},
		handlers: (id) => {
			const n = node(id);
			const out = new Set(listeners.get(n) || []);
			for (const k in n) {
				if (k.startsWith('on') && typeof n[k] === 'function') out.add(k.slice(2));
			}
			for (const a of n.getAttributeNames()) {
				if (a.startsWith('on')) out.add(a.slice(2).toLowerCase());
			}
			return Array.from(out);
		},
		hasHandler: (id, ev) => {
			const n = node(id);
			const s = listeners.get(n);
			return (s && s.has(ev)) || typeof n['on' + ev] === 'function' || n.hasAttribute('on' + ev);
		},
		query: (id, sel) => Array.from(node(id).querySelectorAll(sel)).map(reg),
		matches: (id, sel) => node(id).matches(sel),
		value: (id) => {
			const n = node(id);
			return n.value == null ? (n.getAttribute('value') || '') : String(n.value);
		},
		setValue: (id, v) => { node(id).value = v; return true; },
		checked: (id) => !!node(id).checked,
		setChecked: (id, v) => { node(id).checked = !!v; return true; },
		dispatch: (id, ctor, name) => {
			const n = node(id);
			const C = (typeof window[ctor] === 'function') ? window[ctor] : Event;
			let ev;
			try {
				ev = new C(name, { bubbles: true, cancelable: true, view: window });
			} catch (e) {
				ev = new Event(name, { bubbles: true, cancelable: true });
			}
			n.dispatchEvent(ev);
			return true;
		},
		settle: () => new Promise((resolve) => setTimeout(() => resolve(seq), 0)),
	};
	Object.defineProperty(window, '__pageprobe', { value: api, enumerable: false });
})();`
