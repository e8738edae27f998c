// Package governance holds the runtime safety controls applied to upstream
// exchanges: the overall exchange deadline and the idle timeout between body
// chunks.
package governance
