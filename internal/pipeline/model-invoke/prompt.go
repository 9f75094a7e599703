// internal/pipeline/model-invoke/prompt.go
package modelinvoke

import (
	"fmt"
	"strings"
)

// systemPrompt instructs the model to answer as a village service assistant
// and to emit the structured JSON envelope the pipeline parses.
const systemPrompt = `Anda adalah asisten layanan desa yang membantu warga dengan pertanyaan seputar administrasi dan layanan pemerintahan desa.

Aturan:
- Jawab dalam bahasa yang digunakan warga (umumnya Bahasa Indonesia).
- Gunakan HANYA informasi dari bagian PENGETAHUAN di bawah. Jika informasi tidak tersedia, katakan dengan jujur dan arahkan warga ke kantor desa.
- Jangan mengarang prosedur, biaya, atau jam layanan.
- Jawab singkat, ramah, dan langsung ke inti.

Balas HANYA dengan satu objek JSON berbentuk:
{
  "response": "jawaban utama untuk warga",
  "guidanceText": "langkah-langkah praktis bila relevan, selain itu string kosong",
  "intent": "kategori pertanyaan, snake_case",
  "fields": {"key": "value"},
  "contacts": [{"name": "", "phone": "", "organization": "", "title": ""}],
  "confidence": 0.0,
  "sentiment": "positive|neutral|negative",
  "language": "id|jv|su|en"
}`

// BuildPrompt renders the knowledge context block appended to the system
// prompt for one request.
func BuildPrompt(req *GenerationRequest) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nPENGETAHUAN:\n")

	switch {
	case req.KnowledgeDegraded:
		b.WriteString("(pencarian pengetahuan sedang tidak tersedia; jawab secara umum dan sarankan menghubungi kantor desa untuk kepastian)\n")
	case len(req.Knowledge) == 0:
		b.WriteString("(tidak ada entri yang cocok dengan pertanyaan ini)\n")
	default:
		for i, k := range req.Knowledge {
			fmt.Fprintf(&b, "[%d] (%s, skor %.2f) %s\n", i+1, k.SourceType, k.Score, k.Snippet)
		}
	}
	return b.String()
}
