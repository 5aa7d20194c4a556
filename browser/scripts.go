package browser

// bootstrapScript runs before any page script. It buffers the entries of
// every supported performance entry type and remembers whether the page
// has been hidden since the last drain.
const bootstrapScript = `
(function() {
	if (window.__webvitals) return;
	const state = { entries: {}, hidden: false };
	window.__webvitals = state;
	if (!('PerformanceObserver' in window)) return;
	const wanted = ['largest-contentful-paint', 'first-input', 'event', 'layout-shift', 'paint', 'navigation'];
	const supported = PerformanceObserver.supportedEntryTypes || [];
	const serialize = function(e) {
		const o = e.toJSON ? e.toJSON() : {};
		return {
			name: e.name || '',
			entryType: e.entryType,
			startTime: e.startTime || 0,
			duration: e.duration || 0,
			processingStart: o.processingStart || 0,
			processingEnd: o.processingEnd || 0,
			renderTime: o.renderTime || 0,
			loadTime: o.loadTime || 0,
			value: o.value || 0,
			hadRecentInput: !!o.hadRecentInput,
			requestStart: o.requestStart || 0,
			responseStart: o.responseStart || 0,
			type: o.type || ''
		};
	};
	wanted.forEach(function(type) {
		if (supported.indexOf(type) < 0) return;
		try {
			new PerformanceObserver(function(list) {
				const batch = list.getEntries().map(serialize);
				(state.entries[type] = state.entries[type] || []).push(batch);
			}).observe({ type: type, buffered: true });
		} catch (e) {}
	});
	const hide = function() { state.hidden = true; };
	document.addEventListener('visibilitychange', function() {
		if (document.visibilityState === 'hidden') hide();
	});
	window.addEventListener('pagehide', hide);
	window.addEventListener('beforeunload', hide);
})();
`

// supportedScript lists the entry types the browser can observe.
const supportedScript = `
(function() {
	if (!('PerformanceObserver' in window)) return [];
	return PerformanceObserver.supportedEntryTypes || [];
})()
`

// drainScript returns and resets the buffered entry batches.
const drainScript = `
(function() {
	const state = window.__webvitals;
	if (!state) return { entries: {}, hidden: false };
	const out = { entries: state.entries, hidden: state.hidden };
	state.entries = {};
	state.hidden = false;
	return out;
})()
`

// environmentScript describes the page being measured.
const environmentScript = `
(function() {
	const c = navigator.connection || navigator.mozConnection || navigator.webkitConnection;
	const nav = performance.getEntriesByType('navigation')[0];
	return {
		url: location.href,
		viewportWidth: window.innerWidth,
		userAgent: navigator.userAgent,
		connection: c ? { effectiveType: c.effectiveType || '', type: c.type || '' } : null,
		navigationType: nav ? nav.type : ''
	};
})()
`
