package pipeline

import (
	"fmt"
	"strings"
)

// ItalianRegions is the closed set of region names the extractor may return.
var ItalianRegions = []string{
	"Abruzzo", "Basilicata", "Calabria", "Campania", "Emilia-Romagna",
	"Friuli-Venezia Giulia", "Lazio", "Liguria", "Lombardia", "Marche",
	"Molise", "Piemonte", "Puglia", "Sardegna", "Sicilia", "Toscana",
	"Trentino-Alto Adige", "Umbria", "Valle d'Aosta", "Veneto",
}

// Accident types, mirrored by the accident_type enum in the schema.
const (
	AccidentCarCar    = "auto-auto"
	AccidentCarMoto   = "auto-moto"
	AccidentCarWalker = "auto-pedone"
	AccidentCarBike   = "auto-bici"
	AccidentSingle    = "veicolo-singolo"
	AccidentTruck     = "camion"
	AccidentOther     = "altro"
)

var AccidentTypes = []string{
	AccidentCarCar, AccidentCarMoto, AccidentCarWalker, AccidentCarBike,
	AccidentSingle, AccidentTruck, AccidentOther,
}

const snippetPlaceholder = "Non disponibile"

const classifySystemPrompt = "Sei un classificatore di notizie. Rispondi esclusivamente con JSON valido."

const extractSystemPrompt = "Sei un estrattore di dati strutturati. Rispondi esclusivamente con JSON valido."

const summarySystemPrompt = "Sei un assistente legale che redige sintesi professionali in lingua italiana."

func snippetOrPlaceholder(snippet string) string {
	if strings.TrimSpace(snippet) == "" {
		return snippetPlaceholder
	}
	return snippet
}

func classificationPrompt(title, snippet string) string {
	return fmt.Sprintf(`Analizzi notizie italiane su incidenti stradali.

Stabilisci se l'articolo seguente descrive un incidente stradale mortale avvenuto in Italia.

Titolo: %s
Testo: %s

Rispondi SOLO con un oggetto JSON di questa forma:
{
  "is_fatal_road_accident": true/false,
  "confidence": 0.0-1.0,
  "reason": "spiegazione sintetica"
}

Un articolo va classificato come incidente stradale mortale solo se:
- riguarda un incidente su strada (auto, moto, bicicletta, pedone, camion)
- almeno una persona è deceduta
- il fatto è avvenuto in Italia
Escludi infortuni sul lavoro, malori, suicidi ed eventi non stradali.`, title, snippetOrPlaceholder(snippet))
}

func extractionPrompt(title, snippet string) string {
	return fmt.Sprintf(`Estrai informazioni strutturate da un articolo su un incidente stradale mortale in Italia.

Titolo: %s
Testo: %s

Restituisci SOLO un oggetto JSON valido con questi campi:
{
  "event_date": "YYYY-MM-DD oppure null",
  "event_time": "HH:MM oppure null",
  "city": "comune",
  "province": "sigla della provincia (es. MI, RM, NA) oppure null",
  "region": "una tra: %s",
  "road_name": "strada o autostrada oppure null",
  "deceased_count": numero,
  "injured_count": numero oppure null,
  "accident_type": "%s",
  "dynamics_description": "dinamica in 2-3 frasi, riformulata con parole tue",
  "victim_details": [{"age_range": "es. 40-50", "role": "conducente|passeggero|pedone|ciclista|motociclista"}],
  "confidence_score": 0.0-1.0
}

Regole:
- se la data non è indicata usa la data di oggi
- riporta con precisione il numero di vittime
- non copiare frasi dall'articolo nella descrizione
- non includere dati personali sensibili come nomi o indirizzi`,
		title, snippetOrPlaceholder(snippet), strings.Join(ItalianRegions, ", "), strings.Join(AccidentTypes, "|"))
}

func summaryPrompt(extractedJSON string) string {
	return fmt.Sprintf(`Scrivi una sintesi di taglio legale dell'incidente stradale descritto da questi dati:

%s

La sintesi deve:
- essere in italiano, di 3-4 frasi
- essere neutrale e fattuale, adatta a un contesto legale o assicurativo
- non riprendere testo dall'articolo originale
- indicare data, luogo, tipo di incidente e conseguenze

Rispondi solo con il testo della sintesi, senza formattazione.`, extractedJSON)
}
